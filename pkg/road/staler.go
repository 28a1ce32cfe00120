package road

import (
	"net"

	"github.com/oreobind/road/pkg/packet"
)

// Staler handles a correspondent-style packet that matches no live
// initiator transaction: it mirrors the packet's header (swapping
// source/dest) and sends a single nack straight back to the sender,
// without ever registering itself (spec.md §4.2, C2).
func Staler(stack *Stack, addr net.Addr, in *packet.Packet) {
	stack.Stats.Inc(StatStaleCorrespondentAttempt)
	if sendStaleNack(stack, addr, in) {
		stack.Stats.Inc(StatStaleCorrespondentNack)
	}
}

// Stalent is the symmetric case: an initiator-style packet under a stale
// (no-longer-current) session id.
func Stalent(stack *Stack, addr net.Addr, in *packet.Packet) {
	stack.Stats.Inc(StatStaleInitiatorAttempt)
	if sendStaleNack(stack, addr, in) {
		stack.Stats.Inc(StatStaleInitiatorNack)
	}
}

// UnknownEid records a packet whose exchange-id-equivalent (uid/ha
// combination) matches no remote at all — logged distinctly from a stale
// session per spec.md §6's separate stat keys.
func UnknownEid(stack *Stack, addr net.Addr, in *packet.Packet, correspondent bool) {
	if correspondent {
		stack.Stats.Inc(StatUnknownCorrespondentEid)
	} else {
		stack.Stats.Inc(StatUnknownInitiatorEid)
	}
	sendStaleNack(stack, addr, in)
}

func sendStaleNack(stack *Stack, addr net.Addr, in *packet.Packet) bool {
	// Never answer a nack-family (or renew) packet with another nack — two
	// stacks that have both forgotten a transaction would otherwise bounce
	// nacks at each other indefinitely.
	if in.Head.PacketKind.IsNack() || in.Head.PacketKind == packet.PacketKindRenew {
		return false
	}
	out := &packet.Packet{
		Head: in.Head.Mirror(),
		Body: packet.NewBody(),
	}
	out.Head.PacketKind = packet.PacketKindNack
	data, err := out.Pack()
	if err != nil {
		stack.Stats.Inc(StatPackingError)
		return false
	}
	stack.enqueueOutbound(data, addr)
	return true
}
