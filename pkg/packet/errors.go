package packet

import "errors"

// Errors returned by header/body encode-decode.
var (
	ErrHeaderTooShort  = errors.New("packet: header too short")
	ErrInvalidHeader   = errors.New("packet: invalid header field")
	ErrBodyTooLarge    = errors.New("packet: body exceeds maximum size")
	ErrInvalidBody     = errors.New("packet: body could not be decoded")
	ErrHostTooLong      = errors.New("packet: host string exceeds 255 bytes")
)

// Wire-format size constants.
const (
	// MaxHostLen is the largest encodable host string (length-prefixed by
	// a single byte).
	MaxHostLen = 255

	// MaxUDPPacketSize mirrors the IPv6 minimum MTU, the same ceiling the
	// teacher's transport layer uses for a single datagram.
	MaxUDPPacketSize = 1280

	// MaxBodySize bounds a single packet's body to leave room for the
	// fixed header within MaxUDPPacketSize.
	MaxBodySize = MaxUDPPacketSize - 64
)
