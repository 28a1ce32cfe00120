package road

import (
	"net"

	"github.com/oreobind/road/pkg/packet"
)

// Yokent drives the correspondent side of a yoke transaction (spec.md
// §4.4, C4).
//
// local is a snapshot of the stack's own identity taken at construction
// time; renew's mutability check reads the live e.stack.Local instead.
type Yokent struct {
	*txBase

	role   string
	verhex [32]byte
	pubhex [32]byte

	local Local
}

// acceptYokeRequest is the Stack.dispatch entry point for an inbound yoke
// request matching no live transaction.
func acceptYokeRequest(stack *Stack, addr net.Addr, pkt *packet.Packet, existing *Remote, idx Index) {
	// The l-prefixed fields are the yoker's (the main endpoint's) own
	// credentials; the plain fields are this endpoint's identity as the
	// main has it on record (spec.md §4.4).
	lname, _ := pkt.Body.GetString("lname")
	lrole, _ := pkt.Body.GetString("lrole")
	lverhexB, _ := pkt.Body.GetBytes("lverhex")
	lpubhexB, _ := pkt.Body.GetBytes("lpubhex")
	name, _ := pkt.Body.GetString("name")
	role, _ := pkt.Body.GetString("role")
	verhexB, _ := pkt.Body.GetBytes("verhex")
	pubhexB, _ := pkt.Body.GetBytes("pubhex")
	if len(lverhexB) != 32 || len(lpubhexB) != 32 || len(verhexB) != 32 || len(pubhexB) != 32 {
		stack.Stats.Inc(StatInvalidYoke)
		return
	}
	var lverhex, lpubhex, verhex, pubhex [32]byte
	copy(lverhex[:], lverhexB)
	copy(lpubhex[:], lpubhexB)
	copy(verhex[:], verhexB)
	copy(pubhex[:], pubhexB)

	leid, _ := pkt.Body.GetUint32("leid")
	remote := yoke(stack, existing, lname, lrole, leid, pkt.Head.SourceHost, pkt.Head.SourcePort, addr)
	remote.VerHex = lverhex
	remote.PubHex = lpubhex

	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindYoke, Rmt: true}) {
		stack.Stats.Inc(StatDuplicateYokeAttempt)
		return
	}

	e := &Yokent{role: lrole, verhex: lverhex, pubhex: lpubhex, local: stack.Local.snapshot()}
	params := YokentParams()
	e.txBase = newTxBase(stack, remote, e, packet.TransKindYoke, true, params, StatRedoAccept, ClassFailureStat("yokent"))
	e.tid = pkt.Head.TID
	// Registered under the dispatch-derived index so a retransmitted
	// request, whose index is computed from the yoker's own view of this
	// endpoint, lands back on this transaction.
	e.Add(idx)
	e.storeRx(pkt)

	if stack.keepAccepted(lrole, lverhex, lpubhex) == packet.AcceptStatusRejected {
		stack.Stats.Inc(StatInvalidYoke)
		e.Remove()
		return
	}

	// The main's record of this endpoint has to match what this endpoint
	// actually is. A divergence on a mutable road means this side's
	// identity is out of date: wipe it and re-join outward rather than
	// confirming a relationship under the wrong name (spec.md §4.4).
	if name != stack.Local.Name || role != stack.Local.Role ||
		verhex != stack.Local.VerHex || pubhex != stack.Local.PubHex {
		stack.Stats.Inc(StatInvalidYoke)
		if stack.Local.Mutable && !stack.Local.Main {
			e.Remove()
			stack.Local.UID = 0
			remote.Sid = 0
			remote.Rsid = 0
			StartJoiner(stack, remote)
			return
		}
		e.Nack(packet.PacketKindReject)
		e.Remove()
		return
	}

	e.renew()
}

// yoke finds-or-creates the remote a yoke request refers to.
//
// existing is the remote Stack.dispatch already found for the request — by
// uid, or by ha while the requester's uid is 0 — so a retried request
// reuses the remote the first one registered. The stack.remotes[0] lookup
// below is the original's uid-keyed existence check; a uid-0 remote is
// never in that registry, so it never matches.
func yoke(stack *Stack, existing *Remote, name, role string, uid uint32, host string, port uint16, addr net.Addr) *Remote {
	if existing != nil {
		existing.NetAddr = addr
		return existing
	}
	if _, ok := stack.remotes[0]; ok {
		// dead code given uid 0 is never registered; mirrors the
		// original's equally-dead lookup.
	}
	r := NewRemote(name, role, host, port)
	r.UID = uid
	r.NetAddr = addr
	r.Sid = stack.initialSid(r)
	stack.registerRemote(r)
	return r
}

// renew finalizes the yoke: assigns/refreshes the remote's sid and
// replies, but only if this endpoint's identity may still change.
//
// The mutability check reads the stack's live Local.Mutable flag, so a
// change made after this Yokent started is honored.
func (e *Yokent) renew() {
	if !e.stack.Local.Mutable {
		e.stack.Stats.Inc(StatInvalidYoke)
		e.Remove()
		return
	}

	// The response's own header must still carry the pre-bump sid: the
	// Yoker registered its wait for this response before it had any idea
	// what the new sid would be. The bumped value only reaches it via the
	// body; its own follow-up ack is what will carry the new sid in its
	// header, so that's the index this side re-registers under below.
	responseSID := e.idx.Sid

	e.remote.Sid++
	e.remote.Joined = TriTrue
	e.stack.persist(e.remote)

	e.RemoveIndex(e.idx)
	e.Add(Index{
		Rmt:      true,
		LocalID:  e.stack.Local.ID(),
		RemoteID: e.remote.ID(),
		Sid:      e.remote.Sid,
		Tid:      e.tid,
	})

	body := packet.NewBody()
	body["sid"] = float64(e.remote.Sid)

	e.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindYoke, PacketKind: packet.PacketKindResponse,
			Correspondent: true, SID: responseSID, TID: e.tid,
		},
		Body: body,
	})
}

func (e *Yokent) Receive(pkt *packet.Packet) {
	e.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindRequest:
		// Retransmitted opening request; the response's own redo covers it.
		return
	case packet.PacketKindAck:
		e.stack.Stats.Inc(StatYokeCorrespondComplete)
		e.Remove()
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		e.stack.Stats.Inc(e.failureStat)
		e.Remove()
	default:
		e.stack.Stats.Inc(StatInvalidYoke)
	}
}

// Nack sends a nack-family packet back at the yoker; used on correspondent
// timeout and by the join pre-emption scan in StartJoiner.
func (e *Yokent) Nack(kind packet.PacketKind) {
	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindYoke, PacketKind: kind,
			Correspondent: true, SID: e.idx.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	}, e.remote.NetAddr)
}
