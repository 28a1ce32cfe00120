package packet

import "encoding/binary"

// Header carries the fixed fields every road packet is addressed and
// routed by (spec §6): source/dest host+port, source/dest uid, the
// transaction/packet kind pair, the correspondent/broadcast/wait flags,
// sid/tid, and the (always-nada, in this stand-in) coat/foot kind.
type Header struct {
	SourceHost string
	SourcePort uint16
	DestHost   string
	DestPort   uint16

	SourceUID uint32 // se
	DestUID   uint32 // de

	TransKind  TransKind
	PacketKind PacketKind

	Correspondent bool // cf: rmt
	Broadcast     bool // bf
	Wait          bool // wf

	SID uint32 // si
	TID uint32 // ti

	CoatKind CoatKind // ck
	FootKind FootKind // fk
}

const (
	flagCorrespondent uint8 = 0x01
	flagBroadcast     uint8 = 0x02
	flagWait          uint8 = 0x04
)

func (h *Header) flags() uint8 {
	var f uint8
	if h.Correspondent {
		f |= flagCorrespondent
	}
	if h.Broadcast {
		f |= flagBroadcast
	}
	if h.Wait {
		f |= flagWait
	}
	return f
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	// 1(flags) + 1(tk) + 1(pk) + 1(ck) + 1(fk) + 4(se) + 4(de) + 4(si) + 4(ti)
	// + 2(sp) + 2(dp) + host length-prefixed strings
	return 1 + 1 + 1 + 1 + 1 + 4 + 4 + 4 + 4 + 2 + 2 + 1 + len(h.SourceHost) + 1 + len(h.DestHost)
}

// Encode serializes the header.
func (h *Header) Encode() ([]byte, error) {
	if len(h.SourceHost) > MaxHostLen || len(h.DestHost) > MaxHostLen {
		return nil, ErrHostTooLong
	}
	buf := make([]byte, h.Size())
	offset := 0

	buf[offset] = h.flags()
	offset++
	buf[offset] = uint8(h.TransKind)
	offset++
	buf[offset] = uint8(h.PacketKind)
	offset++
	buf[offset] = uint8(h.CoatKind)
	offset++
	buf[offset] = uint8(h.FootKind)
	offset++

	binary.LittleEndian.PutUint32(buf[offset:], h.SourceUID)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.DestUID)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.SID)
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], h.TID)
	offset += 4

	binary.LittleEndian.PutUint16(buf[offset:], h.SourcePort)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], h.DestPort)
	offset += 2

	buf[offset] = uint8(len(h.SourceHost))
	offset++
	offset += copy(buf[offset:], h.SourceHost)

	buf[offset] = uint8(len(h.DestHost))
	offset++
	offset += copy(buf[offset:], h.DestHost)

	return buf, nil
}

// Decode parses a header from data, returning the number of bytes
// consumed.
func (h *Header) Decode(data []byte) (int, error) {
	if len(data) < 25 {
		return 0, ErrHeaderTooShort
	}
	offset := 0

	flags := data[offset]
	offset++
	h.Correspondent = flags&flagCorrespondent != 0
	h.Broadcast = flags&flagBroadcast != 0
	h.Wait = flags&flagWait != 0

	h.TransKind = TransKind(data[offset])
	offset++
	h.PacketKind = PacketKind(data[offset])
	offset++
	h.CoatKind = CoatKind(data[offset])
	offset++
	h.FootKind = FootKind(data[offset])
	offset++

	h.SourceUID = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	h.DestUID = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	h.SID = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	h.TID = binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	h.SourcePort = binary.LittleEndian.Uint16(data[offset:])
	offset += 2
	h.DestPort = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	if offset >= len(data) {
		return 0, ErrHeaderTooShort
	}
	shLen := int(data[offset])
	offset++
	if offset+shLen > len(data) {
		return 0, ErrHeaderTooShort
	}
	h.SourceHost = string(data[offset : offset+shLen])
	offset += shLen

	if offset >= len(data) {
		return 0, ErrHeaderTooShort
	}
	dhLen := int(data[offset])
	offset++
	if offset+dhLen > len(data) {
		return 0, ErrHeaderTooShort
	}
	h.DestHost = string(data[offset : offset+dhLen])
	offset += dhLen

	return offset, nil
}

// Mirror returns a copy of the header with source/dest host+port and
// source/dest uid swapped and the Correspondent flag inverted — exactly
// what Staler/Stalent need to address a nack back at the sender (spec
// §4.2).
func (h Header) Mirror() Header {
	m := h
	m.SourceHost, m.DestHost = h.DestHost, h.SourceHost
	m.SourcePort, m.DestPort = h.DestPort, h.SourcePort
	m.SourceUID, m.DestUID = h.DestUID, h.SourceUID
	m.Correspondent = !h.Correspondent
	return m
}
