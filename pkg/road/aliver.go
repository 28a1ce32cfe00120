package road

import "github.com/oreobind/road/pkg/packet"

// Aliver drives one heartbeat round (spec.md §4.6, C6). Unlike the
// handshake transactions, alive doesn't cascade into anything — keeping a
// remote alive over time means calling StartAliver again on whatever
// cadence the caller chooses, consistent with spec.md §5's rule that all
// timing is driven by explicit Process ticks, never a hidden timer.
type Aliver struct {
	*txBase
}

// StartAliver sends an alive request to an already-allowed remote. If the
// remote isn't joined or isn't allowed yet, it kicks off whatever
// precondition is missing instead (spec.md §4.6, scenario #6) — the
// cascade already wired into Joiner/Yoker/Allower/Allowent carries the
// relationship the rest of the way to allowed on its own; the caller is
// expected to retry the alive once that settles.
func StartAliver(stack *Stack, remote *Remote) *Aliver {
	if !remote.Joined.IsTrue() {
		stack.Stats.Inc(StatUnjoinedRemote)
		if stack.Local.Main {
			StartYoker(stack, remote)
		} else {
			StartJoiner(stack, remote)
		}
		return nil
	}
	if !remote.Allowed.IsTrue() {
		stack.Stats.Inc(StatUnallowedAliveAttempt)
		StartAllower(stack, remote)
		return nil
	}

	a := &Aliver{}
	params := AliverParams()
	a.txBase = newTxBase(stack, remote, a, packet.TransKindAlive, false, params, StatRedoAlive, ClassFailureStat("aliver"))
	a.tid = remote.NextTid()

	a.Add(Index{
		Rmt:      false,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Sid:      remote.Sid,
		Tid:      a.tid,
	})

	a.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindAlive, PacketKind: packet.PacketKindRequest,
			Correspondent: false, SID: remote.Sid, TID: a.tid,
		},
		Body: packet.NewBody(),
	})
	return a
}

func (a *Aliver) Receive(pkt *packet.Packet) {
	a.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindAck:
		a.remote.Refresh(true)
		a.stack.Stats.Inc(StatAliveComplete)
		a.Remove()
	case packet.PacketKindUnjoined:
		a.stack.Stats.Inc(StatUnjoinedRemote)
		a.remote.Joined = TriFalse
		a.Remove()
		if a.stack.Local.Main {
			StartYoker(a.stack, a.remote)
		} else {
			StartJoiner(a.stack, a.remote)
		}
	case packet.PacketKindUnallowed:
		a.stack.Stats.Inc(StatUnallowedRemote)
		a.remote.Allowed = TriFalse
		a.Remove()
		StartAllower(a.stack, a.remote)
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		a.stack.Stats.Inc(a.failureStat)
		a.remote.Refresh(false)
		a.Remove()
	default:
		a.stack.Stats.Inc(StatInvalidAlive)
	}
}

// Nack marks the remote as no longer alive — called by the base scaffold
// on timeout, per spec.md §4.6.
func (a *Aliver) Nack(packet.PacketKind) {
	a.remote.Refresh(false)
}
