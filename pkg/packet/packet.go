package packet

import "encoding/binary"

// Packet is a fully-formed road wire packet: a Header plus a Body. Packed
// holds the last Pack() output so a transaction can retransmit without
// re-encoding.
type Packet struct {
	Head   Header
	Body   Body
	Packed []byte
}

// Pack serializes the header and body into a wire frame prefixed with the
// header's length and caches the result on Packed.
func (p *Packet) Pack() ([]byte, error) {
	hdr, err := p.Head.Encode()
	if err != nil {
		return nil, err
	}
	body, err := p.Body.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 4+len(hdr)+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(hdr)))
	copy(buf[4:], hdr)
	copy(buf[4+len(hdr):], body)

	p.Packed = buf
	return buf, nil
}

// Parse decodes a wire frame produced by Pack.
func Parse(data []byte) (*Packet, error) {
	if len(data) < 4 {
		return nil, ErrHeaderTooShort
	}
	hdrLen := binary.LittleEndian.Uint32(data)
	if int(hdrLen)+4 > len(data) {
		return nil, ErrHeaderTooShort
	}

	var head Header
	if _, err := head.Decode(data[4 : 4+hdrLen]); err != nil {
		return nil, err
	}

	body, err := UnmarshalBody(data[4+hdrLen:])
	if err != nil {
		return nil, err
	}

	return &Packet{Head: head, Body: body, Packed: data}, nil
}
