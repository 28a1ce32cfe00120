// Package packet is a concrete stand-in for the packeting layer: it
// serializes and parses the on-wire packets the road transaction layer
// consumes and produces. The real packeting layer (head, body, signing,
// segmentation framing) is an out-of-scope collaborator; this package only
// implements enough of it to let pkg/road compile and be exercised by
// tests, in the spirit of pkg/message's header/protocol split.
package packet

// TransKind identifies which of the five transaction kinds a packet
// belongs to.
type TransKind uint8

const (
	TransKindJoin TransKind = iota + 1
	TransKindYoke
	TransKindAllow
	TransKindAlive
	TransKindMessage
)

func (k TransKind) String() string {
	switch k {
	case TransKindJoin:
		return "join"
	case TransKindYoke:
		return "yoke"
	case TransKindAllow:
		return "allow"
	case TransKindAlive:
		return "alive"
	case TransKindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// PacketKind identifies the packet's role within its transaction's
// sequence.
type PacketKind uint8

const (
	PacketKindRequest PacketKind = iota + 1
	PacketKindAck
	PacketKindResponse
	PacketKindNack
	PacketKindRefuse
	PacketKindReject
	PacketKindRenew
	PacketKindHello
	PacketKindCookie
	PacketKindInitiate
	PacketKindUnjoined
	PacketKindUnallowed
	PacketKindResend
	PacketKindMessage
)

func (k PacketKind) String() string {
	switch k {
	case PacketKindRequest:
		return "request"
	case PacketKindAck:
		return "ack"
	case PacketKindResponse:
		return "response"
	case PacketKindNack:
		return "nack"
	case PacketKindRefuse:
		return "refuse"
	case PacketKindReject:
		return "reject"
	case PacketKindRenew:
		return "renew"
	case PacketKindHello:
		return "hello"
	case PacketKindCookie:
		return "cookie"
	case PacketKindInitiate:
		return "initiate"
	case PacketKindUnjoined:
		return "unjoined"
	case PacketKindUnallowed:
		return "unallowed"
	case PacketKindResend:
		return "resend"
	case PacketKindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// IsNack reports whether this packet kind is one of the "stop the
// transaction" family (nack/refuse/reject).
func (k PacketKind) IsNack() bool {
	return k == PacketKindNack || k == PacketKindRefuse || k == PacketKindReject
}

// AcceptStatus is the keep layer's verdict on a presented credential pair.
type AcceptStatus uint8

const (
	AcceptStatusAccepted AcceptStatus = iota + 1
	AcceptStatusPending
	AcceptStatusRejected
)

func (s AcceptStatus) String() string {
	switch s {
	case AcceptStatusAccepted:
		return "accepted"
	case AcceptStatusPending:
		return "pending"
	case AcceptStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CoatKind and FootKind identify the (signing/framing) coat and foot
// applied around a packet body. The road layer never uses anything but
// "nada" (no coat/foot) — the real signing/segmentation framing belongs to
// the packeting layer, out of scope here — but the fields are carried so
// the header shape matches spec.
type CoatKind uint8

const (
	CoatKindNada CoatKind = iota
)

type FootKind uint8

const (
	FootKindNada FootKind = iota
)
