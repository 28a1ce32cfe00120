package road

import (
	"net"
	"strings"

	"github.com/oreobind/road/pkg/crypto"
	"github.com/oreobind/road/pkg/packet"
)

// Allowent drives the correspondent side of the CurveCP-style handshake
// (spec.md §4.5, C5).
type Allowent struct {
	*txBase

	acked bool
}

// acceptAllowHello is the Stack.dispatch entry point for an inbound allow
// hello. remote must already be known (allow never creates a remote —
// spec.md §4.5 requires a prior join/yoke).
//
// Crossed-allow pre-emption mirrors StartAllower's: on the main side the
// correspondent wins, superseding an initiator allow in flight; on the
// non-main side the local initiator wins and the hello is dropped.
func acceptAllowHello(stack *Stack, addr net.Addr, pkt *packet.Packet, remote *Remote) {
	if !remote.Joined.IsTrue() {
		stack.Stats.Inc(StatUnjoinedAllowAttempt)
		return
	}
	if remote.Host != pkt.Head.SourceHost || remote.Port != pkt.Head.SourcePort {
		delete(stack.haRemotes, remote.Addr())
		remote.Host = pkt.Head.SourceHost
		remote.Port = pkt.Head.SourcePort
		stack.haRemotes[remote.Addr()] = remote
	}
	remote.NetAddr = addr

	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindAllow, Rmt: true}) {
		stack.Stats.Inc(StatDuplicateAllowAttempt)
		return
	}
	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindAllow, Rmt: false}) {
		if !stack.Local.Main {
			stack.Stats.Inc(StatDuplicateAllowAttempt)
			return
		}
		for _, tx := range remote.Transactions() {
			if tx.Kind() == packet.TransKindAllow && !tx.Index().Rmt {
				remote.Remove(tx.Index())
			}
		}
	}

	shortPubB, ok := pkt.Body.GetBytes("short_pub")
	if !ok || len(shortPubB) != 32 {
		stack.Stats.Inc(StatInvalidHello)
		return
	}
	copy(remote.PeerShortPub[:], shortPubB)

	if err := remote.Rekey(); err != nil {
		return
	}

	e := &Allowent{}
	params := AllowentParams()
	e.txBase = newTxBase(stack, remote, e, packet.TransKindAllow, true, params, StatRedoCookie, ClassFailureStat("allowent"))
	e.tid = pkt.Head.TID
	e.Add(Index{
		Rmt:      true,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Sid:      remote.Sid,
		Tid:      e.tid,
	})
	e.storeRx(pkt)

	e.sendCookie()
}

func (e *Allowent) sendCookie() {
	oreoNonce, err := crypto.NewNonce()
	if err != nil {
		return
	}
	e.remote.Oreo = oreoNonce

	cookieNonce, err := crypto.NewNonce()
	if err != nil {
		return
	}
	cookie := crypto.SealBox(nil, e.remote.Oreo[:], cookieNonce, e.remote.PeerShortPub, e.stack.Local.LongTerm.Private)

	body := packet.NewBody()
	body.SetBytes("short_pub", e.remote.Short.Public[:])
	body.SetBytes("cookie", cookie)
	body.SetBytes("cookie_nonce", cookieNonce[:])

	e.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: packet.PacketKindCookie,
			Correspondent: true, SID: e.remote.Sid, TID: e.tid,
		},
		Body: body,
	})
}

func (e *Allowent) Receive(pkt *packet.Packet) {
	e.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindHello:
		// Retransmitted hello; the cookie's (or ack's) own redo covers it.
		return
	case packet.PacketKindInitiate:
		e.onInitiate(pkt)
	case packet.PacketKindAck:
		e.onFinalAck()
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		e.stack.Stats.Inc(e.failureStat)
		e.Remove()
	default:
		e.stack.Stats.Inc(StatInvalidInitiate)
	}
}

// onInitiate validates the three bindings spec'd for the initiate: the
// restated short public key must be the one seen in hello, the echoed
// oreo must be the one this side minted for the cookie, and the vouch —
// opened under the two sides' long-term box keys — must decrypt to that
// same short public key, proving the long-term key holder owns the short
// key. Success marks the remote allowed, advances the session, and acks;
// the transaction stays registered until the initiator's final ack lands.
func (e *Allowent) onInitiate(pkt *packet.Packet) {
	if e.acked {
		// Retransmitted initiate; the ack's own redo covers it.
		return
	}

	shortPubB, ok0 := pkt.Body.GetBytes("short_pub")
	oreoB, ok1 := pkt.Body.GetBytes("oreo")
	vouch, ok2 := pkt.Body.GetBytes("vouch")
	nonceB, ok3 := pkt.Body.GetBytes("vouch_nonce")
	if !ok0 || !ok1 || !ok2 || !ok3 ||
		len(shortPubB) != 32 || len(oreoB) != crypto.NonceSize || len(nonceB) != crypto.NonceSize {
		e.stack.Stats.Inc(StatInvalidInitiate)
		e.reject()
		return
	}
	if string(shortPubB) != string(e.remote.PeerShortPub[:]) {
		e.stack.Stats.Inc(StatInvalidInitiate)
		e.reject()
		return
	}
	if string(oreoB) != string(e.remote.Oreo[:]) {
		e.stack.Stats.Inc(StatInvalidInitiate)
		e.reject()
		return
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], nonceB)

	vouched, err := crypto.OpenBox(nil, vouch, nonce, e.remote.PubHex, e.stack.Local.LongTerm.Private)
	if err != nil || string(vouched) != string(e.remote.PeerShortPub[:]) {
		e.stack.Stats.Inc(StatInvalidInitiate)
		e.reject()
		return
	}
	if longPubB, ok := pkt.Body.GetBytes("long_pub"); ok && string(longPubB) != string(e.remote.PubHex[:]) {
		e.stack.Stats.Inc(StatInvalidInitiate)
		e.reject()
		return
	}

	if fqdnB, ok := pkt.Body.GetBytes("fqdn"); ok {
		fqdn := strings.TrimRight(string(fqdnB), " ")
		if fqdn != e.stack.Local.Host {
			if e.stack.Log != nil {
				e.stack.Log.Warnf("allow initiate fqdn %q does not match local %q", fqdn, e.stack.Local.Host)
			}
			if e.stack.StrictFqdn {
				e.stack.Stats.Inc(StatInvalidInitiate)
				e.reject()
				return
			}
		}
	}

	e.acked = true
	e.remote.Allowed = TriTrue
	e.remote.Sid++
	e.remote.RemoveStaleInitiators(e.remote.Sid)
	e.stack.persist(e.remote)

	e.redoStat = StatRedoAllow
	e.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: packet.PacketKindAck,
			Correspondent: true, SID: e.idx.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	})
}

func (e *Allowent) onFinalAck() {
	if !e.acked {
		e.stack.Stats.Inc(StatInvalidInitiate)
		return
	}
	e.stack.Stats.Inc(StatAllowCorrespondComplete)
	e.Remove()

	if e.params.Cascade {
		StartAliver(e.stack, e.remote)
	}
}

// Nack sends a nack-family packet back at the allower, addressed under the
// handshake's own sid so the initiator's index lookup still matches.
func (e *Allowent) Nack(kind packet.PacketKind) {
	e.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: e.stack.Local.Host, SourcePort: e.stack.Local.Port, SourceUID: e.stack.Local.UID,
			DestHost: e.remote.Host, DestPort: e.remote.Port, DestUID: e.remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: kind,
			Correspondent: true, SID: e.idx.Sid, TID: e.tid,
		},
		Body: packet.NewBody(),
	}, e.remote.NetAddr)
}

func (e *Allowent) reject() {
	e.remote.Allowed = TriFalse
	e.Nack(packet.PacketKindReject)
	e.Remove()
}
