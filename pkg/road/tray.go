package road

// MaxSegmentBytes bounds how much application payload each message
// segment packet carries. Segment data rides in the packet body
// base64-encoded, so the raw cap has to leave room for the 4/3 encoding
// expansion plus header and body framing before a segment packet hits
// packet.MaxBodySize (spec.md §4.7).
const MaxSegmentBytes = 768

// MaxMissedPerResend bounds how many missing segment indices a single
// resend packet lists — spec.md §4.7/§8's "chunked at ≤64 missed indices
// per packet", supplemented from original_source/raet's segmentation
// handling, since a message long enough to miss
// more than that would otherwise need an unbounded resend body.
const MaxMissedPerResend = 64

// TxTray tracks one outbound message's segmentation and ack state
// (spec.md §4.7, C7).
type TxTray struct {
	MID      uint32
	Segments [][]byte
	acked    []bool
}

// NewTxTray splits body into fixed-size segments.
func NewTxTray(mid uint32, body []byte) *TxTray {
	if len(body) == 0 {
		return &TxTray{MID: mid, Segments: [][]byte{{}}, acked: make([]bool, 1)}
	}
	var segs [][]byte
	for off := 0; off < len(body); off += MaxSegmentBytes {
		end := off + MaxSegmentBytes
		if end > len(body) {
			end = len(body)
		}
		segs = append(segs, body[off:end])
	}
	return &TxTray{MID: mid, Segments: segs, acked: make([]bool, len(segs))}
}

// Total returns the segment count.
func (t *TxTray) Total() uint32 { return uint32(len(t.Segments)) }

// Ack marks segment idx delivered.
func (t *TxTray) Ack(idx uint32) {
	if int(idx) < len(t.acked) {
		t.acked[idx] = true
	}
}

// Done reports whether every segment has been acked.
func (t *TxTray) Done() bool {
	for _, a := range t.acked {
		if !a {
			return false
		}
	}
	return true
}

// Unacked returns the indices still outstanding.
func (t *TxTray) Unacked() []uint32 {
	var out []uint32
	for i, a := range t.acked {
		if !a {
			out = append(out, uint32(i))
		}
	}
	return out
}

// RxTray reassembles one inbound message from its segments.
type RxTray struct {
	MID      uint32
	Total    uint32
	Segments map[uint32][]byte
}

// NewRxTray starts tracking an inbound message of total segments.
func NewRxTray(mid, total uint32) *RxTray {
	return &RxTray{MID: mid, Total: total, Segments: make(map[uint32][]byte, total)}
}

// Store records segment idx's data. Indices at or beyond Total are ignored.
func (t *RxTray) Store(idx uint32, data []byte) {
	if idx >= t.Total {
		return
	}
	if _, ok := t.Segments[idx]; ok {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.Segments[idx] = cp
}

// Complete reports whether every segment up to Total has arrived.
func (t *RxTray) Complete() bool {
	return uint32(len(t.Segments)) >= t.Total
}

// Missing returns the indices not yet received, in order, capped at
// MaxMissedPerResend — callers needing the full list across a larger gap
// should call Missing repeatedly across successive resend rounds rather
// than grow a single resend packet unbounded.
func (t *RxTray) Missing() []uint32 {
	var out []uint32
	for i := uint32(0); i < t.Total; i++ {
		if _, ok := t.Segments[i]; !ok {
			out = append(out, i)
			if len(out) >= MaxMissedPerResend {
				break
			}
		}
	}
	return out
}

// Assemble concatenates all segments in order. Callers must only call
// this once Complete reports true.
func (t *RxTray) Assemble() []byte {
	var out []byte
	for i := uint32(0); i < t.Total; i++ {
		out = append(out, t.Segments[i]...)
	}
	return out
}
