package packet

import (
	"encoding/base64"
	"encoding/json"
	"math"
)

// Body is the packet's ordered mapping of named fields. spec.md describes
// bodies as "CBOR/JSON-like ordered mappings"; this stand-in uses
// encoding/json, the smallest stdlib codec that round-trips that shape —
// the packeting layer's real on-wire body format (TLV, CBOR, or otherwise)
// is out of scope here (see DESIGN.md).
type Body map[string]any

// NewBody returns an empty body ready for field assignment.
func NewBody() Body {
	return Body{}
}

// Marshal encodes the body to bytes.
func (b Body) Marshal() ([]byte, error) {
	if b == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// UnmarshalBody decodes bytes produced by Marshal.
func UnmarshalBody(data []byte) (Body, error) {
	if len(data) == 0 {
		return Body{}, nil
	}
	var b Body
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, ErrInvalidBody
	}
	return b, nil
}

// GetString returns a string field, or ok=false if absent or the wrong
// type.
func (b Body) GetString(key string) (string, bool) {
	v, ok := b[key].(string)
	return v, ok
}

// SetBytes stores a binary field, base64-encoded so it survives the JSON
// round trip through Marshal/UnmarshalBody.
func (b Body) SetBytes(key string, v []byte) {
	b[key] = base64.StdEncoding.EncodeToString(v)
}

// GetBytes returns a binary field set with SetBytes.
func (b Body) GetBytes(key string) ([]byte, bool) {
	s, ok := b[key].(string)
	if !ok {
		return nil, false
	}
	v, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return v, true
}

// GetUint32 returns a numeric field as a uint32. JSON numbers decode as
// float64; this converts and range-checks.
func (b Body) GetUint32(key string) (uint32, bool) {
	f, ok := b[key].(float64)
	if !ok || f < 0 || f > math.MaxUint32 {
		return 0, false
	}
	return uint32(f), true
}

// GetBool returns a boolean field.
func (b Body) GetBool(key string) (bool, bool) {
	v, ok := b[key].(bool)
	return v, ok
}

// GetStringSlice returns a []string field (for list-of-text fields; numeric
// lists, such as resend's misseds, use GetUint32Slice).
func (b Body) GetStringSlice(key string) ([]string, bool) {
	raw, ok := b[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// GetUint32Slice returns a []uint32 field — used for the Messengent
// resend{misseds} body.
func (b Body) GetUint32Slice(key string) ([]uint32, bool) {
	raw, ok := b[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]uint32, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, uint32(f))
	}
	return out, true
}
