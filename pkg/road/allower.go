package road

import (
	"strings"

	"github.com/oreobind/road/pkg/crypto"
	"github.com/oreobind/road/pkg/packet"
)

// fqdnFieldLen is the fixed width of the initiate packet's fqdn field,
// right-padded with ASCII space.
const fqdnFieldLen = 128

// Allower drives the initiator side of the CurveCP-style handshake that
// authenticates and keys the channel to a joined remote (spec.md §4.5,
// C5): hello, cookie, initiate, ack, and a final ack back.
type Allower struct {
	*txBase

	initiated bool
}

// StartAllower sends the initial hello. An unjoined remote can't be
// allowed — spec.md §4.5's precondition — so this kicks off a join/yoke
// first and defers the hello until that settles. The remote's ephemeral
// keypair is regenerated here (Rekey), superseding whatever a concurrent
// allow may have been using.
//
// Crossed-allow pre-emption per spec.md §4.5/§5: a same-role allow
// already in flight returns early; on the non-main side a correspondent
// allow in progress is pre-empted with a refuse, while on the main side
// the correspondent wins and this initiation backs off.
func StartAllower(stack *Stack, remote *Remote) *Allower {
	if !remote.Joined.IsTrue() {
		stack.Stats.Inc(StatUnjoinedAllowAttempt)
		if stack.Local.Main {
			StartYoker(stack, remote)
		} else {
			StartJoiner(stack, remote)
		}
		return nil
	}
	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindAllow, Rmt: false}) {
		stack.Stats.Inc(StatDuplicateAllowAttempt)
		return nil
	}
	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindAllow, Rmt: true}) {
		if stack.Local.Main {
			stack.Stats.Inc(StatDuplicateAllowAttempt)
			return nil
		}
		for _, tx := range remote.Transactions() {
			if tx.Kind() == packet.TransKindAllow && tx.Index().Rmt {
				tx.Nack(packet.PacketKindRefuse)
				remote.Remove(tx.Index())
			}
		}
	}
	if err := remote.Rekey(); err != nil {
		return nil
	}

	a := &Allower{}
	params := AllowerParams()
	a.txBase = newTxBase(stack, remote, a, packet.TransKindAllow, false, params, StatRedoHello, ClassFailureStat("allower"))
	a.tid = remote.NextTid()

	a.Add(Index{
		Rmt:      false,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Sid:      remote.Sid,
		Tid:      a.tid,
	})

	body := packet.NewBody()
	body.SetBytes("short_pub", remote.Short.Public[:])

	a.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: packet.PacketKindHello,
			Correspondent: false, SID: remote.Sid, TID: a.tid,
		},
		Body: body,
	})
	return a
}

func (a *Allower) Receive(pkt *packet.Packet) {
	a.storeRx(pkt)

	// The handful of branches below are written as a chain of equality
	// checks rather than a switch, preserving the shape of the original's
	// repeated "kind == nack" comparisons (spec.md §9): several of these
	// lines look like they were meant to read PacketKindRefuse or
	// PacketKindReject and instead re-test PacketKindNack, so a refuse or
	// reject arriving here falls through to the invalid-packet branch
	// below rather than being handled as a rejection. This is preserved
	// verbatim rather than fixed.
	kind := pkt.Head.PacketKind
	if kind == packet.PacketKindCookie {
		a.onCookie(pkt)
		return
	} else if kind == packet.PacketKindAck {
		a.onAck()
		return
	} else if kind == packet.PacketKindNack {
		a.onNack()
		return
	} else if kind == packet.PacketKindNack {
		a.onNack()
		return
	} else if kind == packet.PacketKindNack {
		a.onNack()
		return
	}
	a.stack.Stats.Inc(StatInvalidHello)
}

func (a *Allower) onNack() {
	a.remote.Allowed = TriFalse
	a.stack.Stats.Inc(a.failureStat)
	a.Remove()
}

func (a *Allower) Nack(packet.PacketKind) {
	a.remote.Allowed = TriFalse
}

// onCookie opens the correspondent's sealed cookie, recovers the oreo
// nonce binding this exchange, and answers with the initiate: the
// ephemeral short public key restated in the clear and again sealed under
// the two sides' long-term box keys (the vouch — proof that the holder of
// the long-term key owns the short key), the oreo echoed back, this
// endpoint's long-term public key, and the space-padded fqdn.
func (a *Allower) onCookie(pkt *packet.Packet) {
	if a.initiated {
		// Retransmitted cookie; the initiate's own redo covers it.
		return
	}
	shortPubB, ok1 := pkt.Body.GetBytes("short_pub")
	cookie, ok2 := pkt.Body.GetBytes("cookie")
	nonceB, ok3 := pkt.Body.GetBytes("cookie_nonce")
	if !ok1 || !ok2 || !ok3 || len(shortPubB) != 32 || len(nonceB) != crypto.NonceSize {
		a.stack.Stats.Inc(StatInvalidCookie)
		return
	}
	copy(a.remote.PeerShortPub[:], shortPubB)
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], nonceB)

	oreo, err := crypto.OpenBox(nil, cookie, nonce, a.remote.PubHex, a.remote.Short.Private)
	if err != nil || len(oreo) != crypto.NonceSize {
		a.stack.Stats.Inc(StatInvalidCookie)
		return
	}
	copy(a.remote.Oreo[:], oreo)

	vouchNonce, err := crypto.NewNonce()
	if err != nil {
		return
	}
	vouch := crypto.SealBox(nil, a.remote.Short.Public[:], vouchNonce, a.remote.PubHex, a.stack.Local.LongTerm.Private)

	// The fqdn names the correspondent as this side knows it; the
	// correspondent checks it against its own identity.
	fqdn := a.remote.Host
	if len(fqdn) > fqdnFieldLen {
		fqdn = fqdn[:fqdnFieldLen]
	}
	fqdn += strings.Repeat(" ", fqdnFieldLen-len(fqdn))

	body := packet.NewBody()
	body.SetBytes("short_pub", a.remote.Short.Public[:])
	body.SetBytes("oreo", a.remote.Oreo[:])
	body.SetBytes("long_pub", a.stack.Local.PubHex[:])
	body.SetBytes("vouch", vouch)
	body.SetBytes("vouch_nonce", vouchNonce[:])
	body.SetBytes("fqdn", []byte(fqdn))

	a.initiated = true
	a.redoStat = StatRedoInitiate
	a.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: a.stack.Local.Host, SourcePort: a.stack.Local.Port, SourceUID: a.stack.Local.UID,
			DestHost: a.remote.Host, DestPort: a.remote.Port, DestUID: a.remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: packet.PacketKindInitiate,
			Correspondent: false, SID: a.remote.Sid, TID: a.tid,
		},
		Body: body,
	})
}

// onAck completes the handshake: the correspondent accepted the initiate.
// Send the terminating final ack (still addressed under the handshake's
// sid, which is the index the correspondent is waiting on), then advance
// the session, drop whatever initiators are now stale, and replay any
// messages stashed while the remote wasn't allowed.
func (a *Allower) onAck() {
	a.remote.Allowed = TriTrue
	a.stack.persist(a.remote)
	a.stack.Stats.Inc(StatAllowInitiateComplete)

	a.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: a.stack.Local.Host, SourcePort: a.stack.Local.Port, SourceUID: a.stack.Local.UID,
			DestHost: a.remote.Host, DestPort: a.remote.Port, DestUID: a.remote.UID,
			TransKind: packet.TransKindAllow, PacketKind: packet.PacketKindAck,
			Correspondent: false, SID: a.idx.Sid, TID: a.tid,
		},
		Body: packet.NewBody(),
	}, a.remote.NetAddr)

	a.Remove()
	a.remote.Sid++
	a.remote.RemoveStaleInitiators(a.remote.Sid)

	for _, saved := range a.remote.takeSavedMessages() {
		SendMessage(a.stack, a.remote, saved)
	}

	if a.params.Cascade {
		StartAliver(a.stack, a.remote)
	}
}
