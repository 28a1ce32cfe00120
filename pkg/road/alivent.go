package road

import (
	"net"

	"github.com/oreobind/road/pkg/packet"
)

// Alivent answers an alive request immediately — there's nothing to wait
// on, so unlike the other correspondent kinds it never registers a
// transaction at all (spec.md §4.6, C6).
func acceptAliveRequest(stack *Stack, addr net.Addr, pkt *packet.Packet, remote *Remote) {
	if !remote.Joined.IsTrue() {
		stack.Stats.Inc(StatUnjoinedRemote)
		refuseAlive(stack, addr, pkt, remote, packet.PacketKindUnjoined)
		return
	}
	if !remote.Allowed.IsTrue() {
		stack.Stats.Inc(StatUnallowedAliveAttempt)
		refuseAlive(stack, addr, pkt, remote, packet.PacketKindUnallowed)
		return
	}
	remote.NetAddr = addr
	remote.Refresh(true)

	stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindAlive, PacketKind: packet.PacketKindAck,
			Correspondent: true, SID: pkt.Head.SID, TID: pkt.Head.TID,
		},
		Body: packet.NewBody(),
	}, remote.NetAddr)
}

// refuseAlive tells an Aliver its handshake has regressed on this side, so
// it can cascade back through join/allow instead of retrying the heartbeat
// forever (spec.md §4.6).
func refuseAlive(stack *Stack, addr net.Addr, pkt *packet.Packet, remote *Remote, kind packet.PacketKind) {
	stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindAlive, PacketKind: kind,
			Correspondent: true, SID: pkt.Head.SID, TID: pkt.Head.TID,
		},
		Body: packet.NewBody(),
	}, addr)
}
