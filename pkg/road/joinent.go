package road

import (
	"net"

	"github.com/oreobind/road/pkg/packet"
)

// Joinent drives the correspondent side of a join transaction: validate an
// incoming identity, consult the keep layer, mint a uid (when this
// endpoint is main) and initial sid, and wait for the joiner's ack
// (spec.md §4.3, C3).
type Joinent struct {
	*txBase

	role   string
	verhex [32]byte
	pubhex [32]byte

	// joinerLocalUID is the request's DestUID: whatever uid the joiner
	// believes this side goes by (0 for a first join against a vacuous
	// remote). Every response sent back before the joiner's ack must keep
	// mirroring this value as its own SourceUID, since the joiner's
	// registered Index was computed from exactly that belief and won't be
	// updated until it actually processes a response body (spec.md §4.3's
	// index-change subtlety).
	joinerLocalUID uint32

	pending bool
}

// acceptJoinRequest is the Stack.dispatch entry point for an inbound join
// request that matched no live transaction. existing is the remote already
// registered under the request's source uid (or its ha, while that uid is
// 0), if any — present on a retried
// request, or on a second join attempt that should absorb into the still-
// vacuous remote created by the first one (spec.md §2.1's vacuous-join
// absorption, supplemented from original_source/raet/road/transacting.py).
func acceptJoinRequest(stack *Stack, addr net.Addr, pkt *packet.Packet, existing *Remote, idx Index) {
	name, _ := pkt.Body.GetString("name")
	role, _ := pkt.Body.GetString("role")
	verhexB, _ := pkt.Body.GetBytes("verhex")
	pubhexB, _ := pkt.Body.GetBytes("pubhex")
	if len(verhexB) != 32 || len(pubhexB) != 32 {
		stack.Stats.Inc(StatInvalidJoin)
		return
	}
	var verhex, pubhex [32]byte
	copy(verhex[:], verhexB)
	copy(pubhex[:], pubhexB)

	if existing == nil && pkt.Head.DestUID != 0 {
		// The joiner addressed this endpoint by a uid it believes was
		// already assigned, but no remote is registered to answer for it —
		// the prior relationship this joiner remembers is gone on this
		// side. Tell it to restart vacuously rather than silently minting
		// a second identity for the same peer (spec.md §4.3, §7(5)).
		sendJoinRenew(stack, addr, pkt)
		return
	}

	remote := existing
	if remote == nil {
		if byName, ok := stack.findByName(name); ok {
			// A known name arriving from a new address. Absorb into the
			// existing record rather than minting a second identity for
			// the same peer — permitted only while identity may change.
			if !stack.Local.Mutable {
				stack.Stats.Inc(StatInvalidJoin)
				return
			}
			delete(stack.haRemotes, byName.Addr())
			byName.Host = pkt.Head.SourceHost
			byName.Port = pkt.Head.SourcePort
			stack.haRemotes[byName.Addr()] = byName
			remote = byName
		}
	}
	if remote == nil {
		remote = NewRemote(name, role, pkt.Head.SourceHost, pkt.Head.SourcePort)
		remote.VerHex = verhex
		remote.PubHex = pubhex
		remote.NetAddr = addr
		remote.Sid = stack.initialSid(remote)
		stack.registerRemote(remote)
	}
	remote.NetAddr = addr

	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindJoin, Rmt: true}) {
		stack.Stats.Inc(StatDuplicateJoinAttempt)
		stack.sendOnce(&packet.Packet{
			Head: packet.Header{
				SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: pkt.Head.DestUID,
				DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
				TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindRefuse,
				Correspondent: true, TID: pkt.Head.TID,
			},
			Body: packet.NewBody(),
		}, addr)
		return
	}

	e := &Joinent{role: role, verhex: verhex, pubhex: pubhex, joinerLocalUID: pkt.Head.DestUID}
	params := JoinentParams()
	e.txBase = newTxBase(stack, remote, e, packet.TransKindJoin, true, params, StatRedoAccept, ClassFailureStat("joinent"))
	e.tid = pkt.Head.TID
	// Register under the dispatch-derived index, not one recomputed from
	// this side's own registries: a retransmitted request computes its
	// index from the joiner's beliefs (possibly a vacuous ha for this
	// endpoint), and has to find this same transaction.
	e.Add(idx)
	e.storeRx(pkt)

	e.evaluate()
}

// sendJoinRenew answers a join request addressed to a uid this endpoint no
// longer has a remote for with a stateless instruction to restart the join
// vacuously (spec.md §4.3, §8's "renew loop terminates"). No Joinent is
// registered for this: the joiner's own renew handling removes itself and
// starts over, so there is nothing here to wait on.
func sendJoinRenew(stack *Stack, addr net.Addr, pkt *packet.Packet) {
	head := pkt.Head.Mirror()
	head.TransKind = packet.TransKindJoin
	head.PacketKind = packet.PacketKindRenew
	stack.sendOnce(&packet.Packet{Head: head, Body: packet.NewBody()}, addr)
}

func (e *Joinent) evaluate() {
	status := e.stack.keepAccepted(e.role, e.verhex, e.pubhex)
	switch status {
	case packet.AcceptStatusRejected:
		// Keys identical to what's stored mean the stored relationship is
		// itself condemned: drop the remote with the reject. Different
		// keys only refuse the attempt and leave the stored peer alone
		// (spec.md §4.3 step 6, §7(4)).
		if e.remote.VerHex == e.verhex && e.remote.PubHex == e.pubhex {
			e.reject()
			return
		}
		e.stack.Stats.Inc(StatInvalidJoin)
		e.remote.Joined = TriFalse
		e.Nack(packet.PacketKindReject)
		e.Remove()
	case packet.AcceptStatusPending:
		e.pending = true
		e.sendWait()
	default:
		e.accept()
	}
}

func (e *Joinent) sendWait() {
	e.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.joinerLocalUID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindResponse,
			Correspondent: true, Wait: true, TID: e.tid,
		},
		Body: packet.NewBody(),
	})
}

func (e *Joinent) reject() {
	e.stack.Stats.Inc(StatInvalidJoin)
	e.Nack(packet.PacketKindReject)
	e.stack.unregisterRemote(e.remote)
	e.Remove()
}

// accept assigns a uid (minting one if this endpoint is main and the
// remote doesn't already have one) and an initial sid, then re-registers
// itself under the new post-accept index before replying — the join
// transaction's index-change subtlety spec.md §4.3 calls out: the joiner's
// follow-up ack will carry the newly assigned uid, not the vacuous ha this
// transaction was originally indexed under.
func (e *Joinent) accept() {
	// The response packet itself must still address the joiner by
	// whatever it presented itself as in the request (0, for a first
	// join), and carry the pre-accept sid in its header — the joiner only
	// starts using its newly assigned uid and sid starting with its
	// follow-up ack, once it has actually processed this response's body.
	// Re-registering under the post-assignment index below is what lets
	// that ack find this transaction.
	responseDestUID := e.remote.UID
	responseSID := e.idx.Sid

	if e.remote.UID == 0 {
		if !e.stack.Local.Main {
			e.stack.Stats.Inc(StatInvalidJoin)
			e.Remove()
			return
		}
		newUID := e.stack.mintUID()
		e.stack.moveRemote(e.remote, newUID)
	}

	keysChanged := e.remote.VerHex != e.verhex || e.remote.PubHex != e.pubhex
	if keysChanged && e.remote.Joined.IsTrue() && !e.stack.Local.Mutable {
		// Established identity rewriting itself on an immutable road.
		e.stack.Stats.Inc(StatInvalidJoin)
		e.remote.Joined = TriFalse
		e.Nack(packet.PacketKindReject)
		e.Remove()
		return
	}
	e.remote.VerHex = e.verhex
	e.remote.PubHex = e.pubhex
	e.remote.Role = e.role

	e.remote.Sid++
	e.remote.Joined = TriTrue
	e.stack.persist(e.remote)

	// The joiner's follow-up ack will carry both the newly assigned uid
	// (if any) and the bumped sid — re-register under that exact post-
	// accept index now, whether or not a uid was minted this round, or
	// the ack's Index lookup on this side will come up empty.
	e.RemoveIndex(e.idx)
	e.Add(Index{
		Rmt:      true,
		LocalID:  e.stack.Local.ID(),
		RemoteID: e.remote.ID(),
		Sid:      e.remote.Sid,
		Tid:      e.tid,
	})

	body := packet.NewBody()
	body["uid"] = float64(e.remote.UID)
	body["sid"] = float64(e.remote.Sid)
	body["server_uid"] = float64(e.stack.Local.UID)
	body["server_name"] = e.stack.Local.Name
	body["server_role"] = e.stack.Local.Role
	body.SetBytes("server_verhex", e.stack.Local.VerHex[:])
	body.SetBytes("server_pubhex", e.stack.Local.PubHex[:])

	e.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.joinerLocalUID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: responseDestUID,
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindResponse,
			Correspondent: true, SID: responseSID, TID: e.tid,
		},
		Body: body,
	})
}

func (e *Joinent) Receive(pkt *packet.Packet) {
	e.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindRequest:
		// Retransmitted opening request; the response's own redo covers it.
		return
	case packet.PacketKindAck:
		if e.pending {
			return
		}
		e.stack.Stats.Inc(StatJoinCorrespondComplete)
		e.Remove()
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		e.stack.Stats.Inc(e.failureStat)
		e.Remove()
	default:
		e.stack.Stats.Inc(StatInvalidJoin)
	}
}

// Nack sends a nack-family packet addressed the way the joiner expects
// (spec.md §7's correspondent-timeout rule; also reused by reject and by
// the duplicate-scan pre-emptions).
func (e *Joinent) Nack(kind packet.PacketKind) {
	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.joinerLocalUID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindJoin, PacketKind: kind,
			Correspondent: true, SID: e.idx.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	}, e.remote.NetAddr)
}

// Process re-checks the keep layer's verdict on every tick while pending,
// finalizing as soon as a decision lands instead of waiting on the
// joiner's own redo cadence. A pending Joinent never ages toward its
// outer timeout — the operator decides how long approval may take.
func (e *Joinent) Process(dt float64) {
	if e.removed {
		return
	}
	if e.pending {
		status := e.stack.keepAccepted(e.role, e.verhex, e.pubhex)
		if status == packet.AcceptStatusPending {
			e.elapsedTotal = 0
			e.txBase.Process(dt)
			return
		}
		e.pending = false
		e.evaluate()
		return
	}
	e.txBase.Process(dt)
}
