package road

import (
	"net"

	"github.com/oreobind/road/pkg/packet"
)

// Messengent drives the correspondent side of a segmented message
// transfer: reassemble incoming segments, periodically ask for whatever's
// still missing, and deliver the completed body to the stack's rxMsgs
// queue (spec.md §4.7, C7).
type Messengent struct {
	*txBase
	tray *RxTray
}

// acceptMessageFirstSegment is the Stack.dispatch entry point for the
// first segment of a message the stack hasn't seen before.
func acceptMessageFirstSegment(stack *Stack, addr net.Addr, pkt *packet.Packet, remote *Remote, idx Index) {
	if !remote.Allowed.IsTrue() {
		stack.Stats.Inc(StatUnallowedMessageAttempt)
		return
	}
	mid, ok1 := pkt.Body.GetUint32("mid")
	seg, ok2 := pkt.Body.GetUint32("seg")
	segs, ok3 := pkt.Body.GetUint32("segs")
	data, ok4 := pkt.Body.GetBytes("data")
	if !ok1 || !ok2 || !ok3 || !ok4 || segs == 0 {
		stack.Stats.Inc(StatInvalidMessage)
		return
	}

	// The header-derived idx Stack.dispatch already checked for was built
	// from the wire header's own tid; this index is built from the body's
	// own mid instead. The two normally agree, but nothing enforces it —
	// a packet whose body mid doesn't match its header tid would otherwise
	// slip past dispatch's check and collide with whatever transaction
	// already owns that mid below.
	msgIdx := Index{Rmt: true, LocalID: idx.LocalID, RemoteID: idx.RemoteID, Sid: idx.Sid, Tid: mid}
	if _, taken := remote.Get(msgIdx); taken {
		stack.Stats.Inc(StatMessageIndexCollision)
		stack.sendOnce(&packet.Packet{
			Head: packet.Header{
				SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
				DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
				TransKind: packet.TransKindMessage, PacketKind: packet.PacketKindNack,
				Correspondent: true, SID: idx.Sid, TID: mid,
			},
			Body: packet.NewBody(),
		}, addr)
		return
	}

	remote.NetAddr = addr

	e := &Messengent{tray: NewRxTray(mid, segs)}
	// Per-segment acking is on when either side asks for it: the sender
	// signals its burst mode through the header's wait flag.
	params := MessengentParams(stack.Wait || pkt.Head.Wait)
	e.txBase = newTxBase(stack, remote, e, packet.TransKindMessage, true, params, "", ClassFailureStat("messengent"))
	e.tid = mid
	e.Add(msgIdx)
	e.storeRx(pkt)

	e.tray.Store(seg, data)
	e.stack.Stats.Inc(StatMessageSegmentRx)
	e.ackSegment(seg)
	e.checkComplete()
}

func (e *Messengent) Receive(pkt *packet.Packet) {
	e.storeRx(pkt)
	if pkt.Head.PacketKind != packet.PacketKindMessage {
		e.stack.Stats.Inc(StatInvalidMessage)
		return
	}
	seg, ok1 := pkt.Body.GetUint32("seg")
	data, ok2 := pkt.Body.GetBytes("data")
	if !ok1 || !ok2 {
		e.stack.Stats.Inc(StatInvalidMessage)
		return
	}
	e.tray.Store(seg, data)
	e.stack.Stats.Inc(StatMessageSegmentRx)
	e.ackSegment(seg)
	e.checkComplete()
}

// ackSegment acks a single segment immediately in wait mode, so the sender
// can release its next burst of one without waiting on this side's own
// redo-interval resend cadence (spec.md §4.7). Outside wait mode the only
// ack sent is checkComplete's final one, covering the whole transfer.
func (e *Messengent) ackSegment(seg uint32) {
	if !e.wait {
		return
	}
	body := packet.NewBody()
	body["seg"] = float64(seg)
	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindMessage, PacketKind: packet.PacketKindAck,
			Correspondent: true, SID: e.remote.Sid, TID: e.tid,
		},
		Body: body,
	}, e.remote.NetAddr)
}

// Nack sends a nack-family packet back at the sender; called by the base
// scaffold on correspondent timeout and by index-collision handling.
func (e *Messengent) Nack(kind packet.PacketKind) {
	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindMessage, PacketKind: kind,
			Correspondent: true, SID: e.idx.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	}, e.remote.NetAddr)
}

func (e *Messengent) checkComplete() {
	if !e.tray.Complete() {
		return
	}
	body := e.tray.Assemble()
	e.stack.deliverMessage(body, e.remote.Name)
	e.stack.Stats.Inc(StatMessagentCorrespondComplete)

	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindMessage, PacketKind: packet.PacketKindAck,
			Correspondent: true, SID: e.remote.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	}, e.remote.NetAddr)

	e.Remove()
}

// Process sends a resend request for whatever's still missing once per
// redo interval, instead of retransmitting a cached packet.
func (e *Messengent) Process(dt float64) {
	if e.removed {
		return
	}
	e.elapsedTotal += dt
	e.elapsedTx += dt

	if e.params.Timeout > 0 && e.elapsedTotal >= e.params.Timeout {
		e.onTimeout()
		return
	}
	if e.tray.Complete() {
		return
	}
	if e.elapsedTx < e.nextRedo {
		return
	}
	e.elapsedTx = 0
	e.nextRedo = nextBackoff(e.nextRedo, e.params.RedoTimeoutMin, e.params.RedoTimeoutMax)

	missing := e.tray.Missing()
	if len(missing) == 0 {
		return
	}
	e.stack.Stats.Inc(StatMessageResend)

	body := packet.NewBody()
	misseds := make([]any, len(missing))
	for i, v := range missing {
		misseds[i] = float64(v)
	}
	body["misseds"] = misseds

	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindMessage, PacketKind: packet.PacketKindResend,
			Correspondent: true, SID: e.remote.Sid, TID: e.tid,
		},
		Body: body,
	}, e.remote.NetAddr)
}
