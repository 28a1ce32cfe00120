package wire

import "errors"

var (
	ErrClosed          = errors.New("wire: transport closed")
	ErrAlreadyStarted  = errors.New("wire: transport already started")
	ErrNotStarted      = errors.New("wire: transport not started")
	ErrNoHandler       = errors.New("wire: no message handler configured")
	ErrInvalidAddress  = errors.New("wire: invalid address")
	ErrMessageTooLarge = errors.New("wire: message exceeds maximum datagram size")
)

// MaxDatagramSize mirrors the IPv6 minimum MTU, the same ceiling the
// teacher's UDP transport enforces.
const MaxDatagramSize = 1280

// DefaultPort is the Road layer's default UDP port. Picked arbitrarily
// (outside the well-known range) since, unlike the teacher's protocol,
// nothing here registers a real IANA port.
const DefaultPort = 7530
