package packet

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		SourceHost:    "10.0.0.1",
		SourcePort:    7530,
		DestHost:      "10.0.0.2",
		DestPort:      7531,
		SourceUID:     1,
		DestUID:       2,
		TransKind:     TransKindJoin,
		PacketKind:    PacketKindRequest,
		Correspondent: false,
		Broadcast:     false,
		Wait:          true,
		SID:           0,
		TID:           1,
		CoatKind:      CoatKindNada,
		FootKind:      FootKindNada,
	}

	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got Header
	n, err := got.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("Decode consumed %d, want %d", n, len(enc))
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestMirror(t *testing.T) {
	h := Header{
		SourceHost: "a", SourcePort: 1,
		DestHost: "b", DestPort: 2,
		SourceUID: 10, DestUID: 20,
		Correspondent: false,
	}
	m := h.Mirror()
	if m.SourceHost != "b" || m.DestHost != "a" {
		t.Fatalf("host swap failed: %+v", m)
	}
	if m.SourceUID != 20 || m.DestUID != 10 {
		t.Fatalf("uid swap failed: %+v", m)
	}
	if !m.Correspondent {
		t.Fatalf("Correspondent flag should invert")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	body := NewBody()
	body["name"] = "alpha"
	body.SetBytes("verhex", []byte{1, 2, 3, 4})

	p := &Packet{
		Head: Header{
			SourceHost: "127.0.0.1", SourcePort: 7530,
			DestHost: "127.0.0.1", DestPort: 7531,
			TransKind: TransKindJoin, PacketKind: PacketKindRequest,
		},
		Body: body,
	}

	wire, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	name, ok := got.Body.GetString("name")
	if !ok || name != "alpha" {
		t.Fatalf("name field mismatch: %v", got.Body)
	}
	vh, ok := got.Body.GetBytes("verhex")
	if !ok || len(vh) != 4 {
		t.Fatalf("verhex field mismatch: %v", got.Body)
	}
	if got.Head.TransKind != TransKindJoin || got.Head.PacketKind != PacketKindRequest {
		t.Fatalf("header mismatch: %+v", got.Head)
	}
}
