package road

import "github.com/oreobind/road/pkg/packet"

// Messenger drives the initiator side of a segmented message transfer
// (spec.md §4.7, C7). Unlike the single-cached-packet redo every other
// transaction kind uses, a message's retransmission is driven by the
// correspondent's explicit resend requests, so Messenger never populates
// txBase.txPacket and relies on its own resend handling instead of the
// base scaffold's redo.
type Messenger struct {
	*txBase
	tray *TxTray
}

// SendMessage starts a new message transfer to an allowed remote. A
// remote that isn't allowed yet doesn't drop the message: the body is
// stashed on the remote, an allow handshake is kicked off, and the stash
// replays once that completes (spec.md §4.5's "replay saved messages").
func SendMessage(stack *Stack, remote *Remote, body []byte) *Messenger {
	if !remote.Allowed.IsTrue() {
		stack.Stats.Inc(StatUnallowedMessageAttempt)
		remote.SaveMessage(body)
		StartAllower(stack, remote)
		return nil
	}

	mid := remote.NextTid()
	m := &Messenger{tray: NewTxTray(mid, body)}
	params := MessengerParams(stack.Wait)
	m.txBase = newTxBase(stack, remote, m, packet.TransKindMessage, false, params, StatRedoSegment, ClassFailureStat("messenger"))
	m.tid = mid

	m.Add(Index{
		Rmt:      false,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Sid:      remote.Sid,
		Tid:      mid,
	})

	if m.wait {
		m.sendSegments([]uint32{0})
	} else {
		m.sendSegments(allIndices(m.tray.Total()))
	}
	return m
}

func allIndices(n uint32) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

func (m *Messenger) sendSegments(indices []uint32) {
	for _, idx := range indices {
		if int(idx) >= len(m.tray.Segments) {
			// Correspondent asked for a segment this message never had.
			m.stack.Stats.Inc(StatInvalidMisseds)
			continue
		}
		body := packet.NewBody()
		body["mid"] = float64(m.tray.MID)
		body["seg"] = float64(idx)
		body["segs"] = float64(m.tray.Total())
		body.SetBytes("data", m.tray.Segments[idx])

		data, err := (&packet.Packet{
			Head: packet.Header{
				SourceHost: m.stack.Local.Host, SourcePort: m.stack.Local.Port, SourceUID: m.stack.Local.UID,
				DestHost: m.remote.Host, DestPort: m.remote.Port, DestUID: m.remote.UID,
				TransKind: packet.TransKindMessage, PacketKind: packet.PacketKindMessage,
				Correspondent: false, Wait: m.wait, SID: m.remote.Sid, TID: m.tid,
			},
			Body: body,
		}).Pack()
		if err != nil {
			m.stack.Stats.Inc(StatPackingError)
			continue
		}
		m.stack.enqueueOutbound(data, m.remote.NetAddr)
		m.stack.Stats.Inc(StatMessageSegmentTx)
	}
	m.elapsedTx = 0
}

func (m *Messenger) Receive(pkt *packet.Packet) {
	m.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindResend:
		misseds, ok := pkt.Body.GetUint32Slice("misseds")
		if !ok {
			m.stack.Stats.Inc(StatInvalidResend)
			return
		}
		m.stack.Stats.Inc(StatMessageResend)
		m.sendSegments(misseds)
	case packet.PacketKindAck:
		m.onAck(pkt)
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		m.stack.Stats.Inc(m.failureStat)
		m.Remove()
	default:
		m.stack.Stats.Inc(StatInvalidMessage)
	}
}

// onAck applies an incoming ack. In wait mode each ack names the single
// segment it covers via "seg" and unlocks the next burst of one (spec.md
// §4.7); without wait mode, or against a correspondent that never adopted
// it, a single ack with no "seg" field still means the whole transfer
// landed, matching the all-at-once burst SendMessage sent.
func (m *Messenger) onAck(pkt *packet.Packet) {
	m.stack.Stats.Inc(StatMessageSegmentAck)
	if seg, ok := pkt.Body.GetUint32("seg"); ok {
		m.tray.Ack(seg)
	} else {
		for i := uint32(0); i < m.tray.Total(); i++ {
			m.tray.Ack(i)
		}
	}

	if !m.tray.Done() {
		if m.wait {
			if next := m.tray.Unacked(); len(next) > 0 {
				m.sendSegments(next[:1])
			}
		}
		return
	}

	m.stack.Stats.Inc(StatMessageInitiateComplete)
	m.Remove()
}

// Process only needs the shared outer-timeout check — retransmission is
// driven entirely by resend requests, so it never touches the redo half
// of the base scaffold.
func (m *Messenger) Process(dt float64) {
	if m.removed {
		return
	}
	m.elapsedTotal += dt
	if m.params.Timeout > 0 && m.elapsedTotal >= m.params.Timeout {
		m.onTimeout()
	}
}
