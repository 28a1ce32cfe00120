package road

import "github.com/oreobind/road/pkg/packet"

// Yoker drives the initiator side of a yoke transaction — the reverse-join
// spec.md §4.4 describes: used when this endpoint already knows a remote
// (perhaps only as a correspondent from an earlier join) and wants that
// remote to confirm or refresh the relationship from its own side, without
// running a full join handshake again.
type Yoker struct {
	*txBase
}

// StartYoker transmits the initial yoke request. Preconditions per
// spec.md §4.4: only the main endpoint yokes, the remote's credentials
// must already be accepted by the keep layer (pending or rejected aborts),
// and at most one yoke per remote may be in flight.
func StartYoker(stack *Stack, remote *Remote) *Yoker {
	if !stack.Local.Main {
		stack.Stats.Inc(StatUnnecessaryYokeAttempt)
		return nil
	}
	var zeroKey [32]byte
	if remote.VerHex == zeroKey || remote.PubHex == zeroKey {
		// A yoke re-presents the remote's stored credentials; without them
		// there's nothing to yoke against.
		stack.Stats.Inc(StatInvalidYoke)
		return nil
	}
	if stack.keepAccepted(remote.Role, remote.VerHex, remote.PubHex) != packet.AcceptStatusAccepted {
		stack.Stats.Inc(StatInvalidYoke)
		return nil
	}
	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindYoke, Rmt: false}) {
		stack.Stats.Inc(StatDuplicateYokeAttempt)
		return nil
	}

	y := &Yoker{}
	params := YokerParams()
	y.txBase = newTxBase(stack, remote, y, packet.TransKindYoke, false, params, StatRedoJoin, ClassFailureStat("yoker"))
	y.tid = remote.NextTid()

	y.Add(Index{
		Rmt:      false,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Tid:      y.tid,
	})

	// The request carries both sides of the relationship: the remote's
	// identity as this (main) endpoint has it on record, and this
	// endpoint's own credentials under the l-prefixed fields (spec.md
	// §4.4). The correspondent checks the former against itself.
	body := packet.NewBody()
	body["name"] = remote.Name
	body["role"] = remote.Role
	body.SetBytes("verhex", remote.VerHex[:])
	body.SetBytes("pubhex", remote.PubHex[:])
	body["leid"] = float64(stack.Local.UID)
	body["lname"] = stack.Local.Name
	body["lrole"] = stack.Local.Role
	body.SetBytes("lverhex", stack.Local.VerHex[:])
	body.SetBytes("lpubhex", stack.Local.PubHex[:])

	y.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindYoke, PacketKind: packet.PacketKindRequest,
			Correspondent: false, TID: y.tid,
		},
		Body: body,
	})
	return y
}

func (y *Yoker) Receive(pkt *packet.Packet) {
	y.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindResponse:
		y.onResponse(pkt)
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		y.stack.Stats.Inc(y.failureStat)
		y.Remove()
	default:
		y.stack.Stats.Inc(StatInvalidYoke)
	}
}

func (y *Yoker) onResponse(pkt *packet.Packet) {
	sid, ok := pkt.Body.GetUint32("sid")
	if !ok {
		y.stack.Stats.Inc(StatInvalidAccept)
		return
	}
	y.remote.Sid = sid
	y.remote.RemoveStaleInitiators(sid)
	y.remote.Joined = TriTrue
	y.stack.persist(y.remote)
	y.stack.Stats.Inc(StatYokeInitiateComplete)

	y.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: y.stack.Local.Host, SourcePort: y.stack.Local.Port, SourceUID: y.stack.Local.UID,
			DestHost: y.remote.Host, DestPort: y.remote.Port, DestUID: y.remote.UID,
			TransKind: packet.TransKindYoke, PacketKind: packet.PacketKindAck,
			Correspondent: false, SID: y.remote.Sid, TID: y.tid,
		},
		Body: packet.NewBody(),
	}, y.remote.NetAddr)

	y.Remove()

	if y.params.Cascade {
		StartAllower(y.stack, y.remote)
	}
}
