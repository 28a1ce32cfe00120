package road

import (
	"bytes"
	"testing"

	"github.com/oreobind/road/pkg/crypto"
	"github.com/oreobind/road/pkg/keep"
	"github.com/oreobind/road/pkg/packet"
)

// TestJoinAllowAliveMessage exercises the full pipeline end to end over an
// in-memory Pipe: join, the automatic allow cascade, an explicit alive
// round, and a multi-segment message transfer.
func TestJoinAllowAliveMessage(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)

	if !remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected A's remote to be joined, got %v", remoteAtA.Joined)
	}
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected A's remote to be allowed (cascade from join), got %v", remoteAtA.Allowed)
	}

	remoteAtB, ok := pair.B.findByName("alice")
	if !ok {
		t.Fatalf("expected B to have registered alice by name")
	}
	if !remoteAtB.Joined.IsTrue() {
		t.Fatalf("expected B's remote to be joined, got %v", remoteAtB.Joined)
	}
	if !remoteAtB.Allowed.IsTrue() {
		t.Fatalf("expected B's remote to be allowed, got %v", remoteAtB.Allowed)
	}

	StartAliver(pair.A, remoteAtA)
	pair.Tick(0.05, 10)
	if !remoteAtB.Alived {
		t.Fatalf("expected B to have observed A's alive request")
	}
	if !remoteAtA.Alived {
		t.Fatalf("expected A to have observed B's alive ack")
	}

	payload := make([]byte, MaxSegmentBytes*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	SendMessage(pair.A, remoteAtA, payload)
	pair.Tick(0.05, 60)

	select {
	case rx := <-pair.B.RxMsgs:
		if rx.From != "alice" {
			t.Fatalf("expected message from alice, got %q", rx.From)
		}
		if len(rx.Body) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(rx.Body))
		}
		for i := range payload {
			if rx.Body[i] != payload[i] {
				t.Fatalf("payload mismatch at byte %d", i)
			}
		}
	default:
		t.Fatalf("expected a reassembled message on B's RxMsgs queue")
	}

	if got := pair.B.Stats.Get(StatMessagentCorrespondComplete); got != 1 {
		t.Fatalf("expected 1 messagent_correspond_complete, got %d", got)
	}
	if got := pair.A.Stats.Get(StatMessageInitiateComplete); got != 1 {
		t.Fatalf("expected 1 message_initiate_complete, got %d", got)
	}
}

// TestSendMessageWaitMode exercises the segment-by-segment burst-of-one
// send protocol: each segment must be individually acked before the next
// goes out, instead of the default all-at-once burst.
func TestSendMessageWaitMode(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}
	pair.A.Wait = true
	pair.B.Wait = true

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected A's remote to be allowed before sending")
	}

	payload := make([]byte, MaxSegmentBytes*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	SendMessage(pair.A, remoteAtA, payload)
	pair.Tick(0.05, 60)

	select {
	case rx := <-pair.B.RxMsgs:
		if len(rx.Body) != len(payload) {
			t.Fatalf("expected %d bytes, got %d", len(payload), len(rx.Body))
		}
		for i := range payload {
			if rx.Body[i] != payload[i] {
				t.Fatalf("payload mismatch at byte %d", i)
			}
		}
	default:
		t.Fatalf("expected a reassembled message on B's RxMsgs queue")
	}

	if got := pair.A.Stats.Get(StatMessageSegmentAck); got < 4 {
		t.Fatalf("expected one ack per segment in wait mode, got %d", got)
	}
	if got := pair.A.Stats.Get(StatMessageInitiateComplete); got != 1 {
		t.Fatalf("expected 1 message_initiate_complete, got %d", got)
	}
}

// TestJoinRenewRestartsVacuously exercises a join response's renew kind:
// a correspondent with no memory of the uid the joiner addressed it by
// tells the joiner to restart from scratch rather than minting it a second
// identity.
func TestJoinRenewRestartsVacuously(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected A's remote to be joined after the first round")
	}
	remoteAtB, ok := pair.B.findByName("alice")
	if !ok {
		t.Fatalf("expected B to have registered alice by name")
	}

	// B forgets it ever knew alice, forcing a renew the next time A joins
	// under the uid it believes B already gave it.
	pair.B.unregisterRemote(remoteAtB)

	remoteAtA.Joined = TriFalse
	StartJoiner(pair.A, remoteAtA)
	pair.Tick(0.05, 40)

	if !remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected A's remote to be joined again after the renew restart")
	}
	if !remoteAtA.joinRenewed {
		t.Fatalf("expected the renew restart to have been recorded")
	}
}

// TestStaleCorrespondentNacked exercises C2's Staler path: a
// correspondent-style packet referencing a transaction this side never
// had gets exactly one nack back and no registration.
func TestStaleCorrespondentNacked(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	stray := &packet.Packet{
		Head: packet.Header{
			SourceHost: "bob", SourceUID: 1,
			DestHost: "alice",
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindResponse,
			Correspondent: true, SID: 5, TID: 3,
		},
		Body: packet.NewBody(),
	}
	pair.B.sendOnce(stray, pair.PipeA.LocalAddr())
	pair.Tick(0.05, 4)

	if got := pair.A.Stats.Get(StatStaleCorrespondentAttempt); got != 1 {
		t.Fatalf("expected 1 stale_correspondent_attempt, got %d", got)
	}
	if got := pair.A.Stats.Get(StatStaleCorrespondentNack); got != 1 {
		t.Fatalf("expected 1 stale_correspondent_nack, got %d", got)
	}
}

// TestAllowRejectedOnBadVouch corrupts the correspondent's stored copy of
// the initiator's long-term crypt key between handshakes, so the vouch —
// the short public key sealed under the two sides' long-term keys — no
// longer opens. The correspondent must reject, and — per the preserved
// nack-dispatch defect in Allower.Receive — the reject lands in the
// invalid-packet branch on the initiator rather than being handled,
// leaving the allower to die by timeout or stale-nack.
func TestAllowRejectedOnBadVouch(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected the first allow to succeed")
	}
	remoteAtB, ok := pair.B.findByName("alice")
	if !ok {
		t.Fatalf("expected B to know alice")
	}

	badLongTerm, err := crypto.GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}
	remoteAtB.PubHex = badLongTerm.Public

	StartAllower(pair.A, remoteAtA)
	pair.Tick(0.25, 30)

	if got := pair.B.Stats.Get(StatInvalidInitiate); got != 1 {
		t.Fatalf("expected 1 invalid_initiate at the correspondent, got %d", got)
	}
	if !remoteAtB.Allowed.IsFalse() {
		t.Fatalf("expected B to have marked alice unallowed, got %v", remoteAtB.Allowed)
	}
	if !remoteAtA.Allowed.IsFalse() {
		t.Fatalf("expected A's allower to have failed, got %v", remoteAtA.Allowed)
	}
}

// TestDuplicateJoinRefused races a second join request against an
// in-flight Joinent for the same remote: the second must be refused and
// the first must still complete.
func TestDuplicateJoinRefused(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()

	// A second request, already queued behind the first before either is
	// flushed, so both reach the correspondent in the same drain.
	body := packet.NewBody()
	body["name"] = pair.A.Local.Name
	body["role"] = pair.A.Local.Role
	body.SetBytes("verhex", pair.A.Local.VerHex[:])
	body.SetBytes("pubhex", pair.A.Local.PubHex[:])
	dup := &packet.Packet{
		Head: packet.Header{
			SourceHost: pair.A.Local.Host, SourcePort: pair.A.Local.Port,
			DestHost: pair.B.Local.Host, DestPort: pair.B.Local.Port,
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindRequest,
			TID: 99,
		},
		Body: body,
	}
	pair.A.sendOnce(dup, pair.PipeB.LocalAddr())
	pair.Tick(0.05, 40)

	if got := pair.B.Stats.Get(StatDuplicateJoinAttempt); got != 1 {
		t.Fatalf("expected 1 duplicate_join_attempt, got %d", got)
	}
	if !remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected the first join to complete, got %v", remoteAtA.Joined)
	}
}

// TestAliveCascadesFromUnallowed is spec scenario 6: an alive attempt
// against a remote that has fallen out of allowed doesn't send a request,
// it re-runs the allow handshake and lets the cascade deliver the
// heartbeat.
func TestAliveCascadesFromUnallowed(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected setup allow to succeed")
	}

	remoteAtA.Allowed = TriFalse
	remoteAtA.Alived = false

	if a := StartAliver(pair.A, remoteAtA); a != nil {
		t.Fatalf("expected the aliver not to start while unallowed")
	}
	if got := pair.A.Stats.Get(StatUnallowedAliveAttempt); got != 1 {
		t.Fatalf("expected 1 unallowed_alive_attempt, got %d", got)
	}

	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected the cascaded allow to have completed, got %v", remoteAtA.Allowed)
	}
	if !remoteAtA.Alived {
		t.Fatalf("expected the cascaded alive to have completed")
	}
}

// TestMessageWithLoss is spec scenario 4: drop one segment in transit and
// let the correspondent's resend request recover it.
func TestMessageWithLoss(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected setup allow to succeed")
	}

	dropped := false
	pair.PipeA.SetLossFn(func(data []byte) bool {
		p, err := packet.Parse(data)
		if err != nil {
			return false
		}
		if p.Head.TransKind != packet.TransKindMessage || p.Head.PacketKind != packet.PacketKindMessage {
			return false
		}
		if seg, ok := p.Body.GetUint32("seg"); ok && seg == 2 && !dropped {
			dropped = true
			return true
		}
		return false
	})

	payload := make([]byte, MaxSegmentBytes*4+100)
	for i := range payload {
		payload[i] = byte(i % 13)
	}
	SendMessage(pair.A, remoteAtA, payload)
	pair.Tick(0.25, 30)

	if !dropped {
		t.Fatalf("expected the loss filter to have dropped segment 2")
	}
	if got := pair.B.Stats.Get(StatMessageResend); got < 1 {
		t.Fatalf("expected at least one resend request, got %d", got)
	}
	select {
	case rx := <-pair.B.RxMsgs:
		if !bytes.Equal(rx.Body, payload) {
			t.Fatalf("reassembled payload does not match")
		}
	default:
		t.Fatalf("expected the message to be recovered and delivered")
	}
	if got := pair.A.Stats.Get(StatMessageInitiateComplete); got != 1 {
		t.Fatalf("expected 1 message_initiate_complete, got %d", got)
	}
}

// TestMessageQueuedUntilAllowed: a message sent while the remote isn't
// allowed is stashed, an allow handshake is kicked off, and the stash
// replays once it completes.
func TestMessageQueuedUntilAllowed(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	if !remoteAtA.Allowed.IsTrue() {
		t.Fatalf("expected setup allow to succeed")
	}

	remoteAtA.Allowed = TriFalse
	payload := []byte("queued until the road reopens")

	if m := SendMessage(pair.A, remoteAtA, payload); m != nil {
		t.Fatalf("expected SendMessage to defer while unallowed")
	}
	if got := pair.A.Stats.Get(StatUnallowedMessageAttempt); got != 1 {
		t.Fatalf("expected 1 unallowed_message_attempt, got %d", got)
	}

	pair.Tick(0.05, 40)
	select {
	case rx := <-pair.B.RxMsgs:
		if !bytes.Equal(rx.Body, payload) {
			t.Fatalf("replayed payload does not match")
		}
	default:
		t.Fatalf("expected the stashed message to have been replayed and delivered")
	}
}

// TestPendingJoinHeldForApproval: a keep layer answering "pending" holds
// the join open (wait-response) until the operator approves, then the
// handshake completes without the joiner restarting.
func TestPendingJoinHeldForApproval(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}
	pair.B.Keep = keep.NewMemoryKeep(packet.AcceptStatusPending)

	remoteAtA := pair.Join()
	pair.Tick(0.05, 10)
	if remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected the join to be held while pending")
	}

	pair.B.Keep.(*keep.MemoryKeep).Approve(pair.A.Local.Role, pair.A.Local.VerHex, pair.A.Local.PubHex)
	pair.Tick(0.05, 40)

	if !remoteAtA.Joined.IsTrue() {
		t.Fatalf("expected the join to complete after approval, got %v", remoteAtA.Joined)
	}
}

// TestRejectedJoinRemovesRemote: a keep layer verdict of rejected must
// tear down the ephemeral remote on the correspondent and mark the joiner
// side unjoined.
func TestRejectedJoinRemovesRemote(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}
	pair.B.Keep.(*keep.MemoryKeep).Reject(pair.A.Local.Role, pair.A.Local.VerHex, pair.A.Local.PubHex)

	remoteAtA := pair.Join()
	pair.Tick(0.05, 10)

	if !remoteAtA.Joined.IsFalse() {
		t.Fatalf("expected the join to have been rejected, got %v", remoteAtA.Joined)
	}
	if _, ok := pair.B.findByName("alice"); ok {
		t.Fatalf("expected B to have dropped the rejected remote")
	}
	if got := pair.B.Stats.Get(StatInvalidJoin); got != 1 {
		t.Fatalf("expected 1 invalid_join, got %d", got)
	}
}

// TestYokeRefreshesSession: the main endpoint re-confirms an established
// relationship from its own side; both peers end up one sid further along.
func TestYokeRefreshesSession(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}

	remoteAtA := pair.Join()
	pair.Tick(0.05, 40)
	remoteAtB, ok := pair.B.findByName("alice")
	if !ok {
		t.Fatalf("expected B to have registered alice")
	}
	sidBefore := remoteAtB.Sid

	if y := StartYoker(pair.B, remoteAtB); y == nil {
		t.Fatalf("expected the yoker to start")
	}
	pair.Tick(0.05, 40)

	if got := pair.B.Stats.Get(StatYokeInitiateComplete); got != 1 {
		t.Fatalf("expected 1 yoke_initiate_complete, got %d", got)
	}
	if got := pair.A.Stats.Get(StatYokeCorrespondComplete); got != 1 {
		t.Fatalf("expected 1 yoke_correspond_complete, got %d", got)
	}
	if remoteAtB.Sid <= sidBefore {
		t.Fatalf("expected the yoke to advance the sid past %d, got %d", sidBefore, remoteAtB.Sid)
	}
	if remoteAtA.Sid != remoteAtB.Sid {
		t.Fatalf("expected both sides to agree on the new sid: %d vs %d", remoteAtA.Sid, remoteAtB.Sid)
	}
}

// TestJoinerRefusesToStartWhenMain: the authoritative endpoint never
// initiates a join (it yokes instead).
func TestJoinerRefusesToStartWhenMain(t *testing.T) {
	pair, err := NewTestPair("alice", "bob")
	if err != nil {
		t.Fatalf("NewTestPair: %v", err)
	}
	pair.A.Local.Main = true

	remote := NewRemote(pair.B.Local.Name, pair.B.Local.Role, pair.B.Local.Host, pair.B.Local.Port)
	pair.A.registerRemote(remote)
	if j := StartJoiner(pair.A, remote); j != nil {
		t.Fatalf("expected StartJoiner to refuse on a main endpoint")
	}
	if got := pair.A.Stats.Get(StatInvalidJoin); got != 1 {
		t.Fatalf("expected 1 invalid_join, got %d", got)
	}
}

func TestTxTraySegmentation(t *testing.T) {
	body := make([]byte, MaxSegmentBytes*2+1)
	tray := NewTxTray(7, body)
	if tray.Total() != 3 {
		t.Fatalf("expected 3 segments, got %d", tray.Total())
	}
	if len(tray.Segments[2]) != 1 {
		t.Fatalf("expected a 1-byte tail segment, got %d", len(tray.Segments[2]))
	}
	tray.Ack(0)
	tray.Ack(2)
	if tray.Done() {
		t.Fatalf("expected the tray not to be done with segment 1 outstanding")
	}
	if got := tray.Unacked(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [1] unacked, got %v", got)
	}
	tray.Ack(1)
	if !tray.Done() {
		t.Fatalf("expected the tray to be done")
	}

	empty := NewTxTray(8, nil)
	if empty.Total() != 1 {
		t.Fatalf("expected an empty body to still occupy one segment, got %d", empty.Total())
	}
}

func TestRxTrayMissingCappedPerResend(t *testing.T) {
	tray := NewRxTray(1, 200)
	if got := tray.Missing(); len(got) != MaxMissedPerResend {
		t.Fatalf("expected the missing list capped at %d, got %d", MaxMissedPerResend, len(got))
	}
	tray.Store(0, []byte{1})
	if got := tray.Missing(); got[0] != 1 {
		t.Fatalf("expected the missing list to start at 1 after storing 0, got %d", got[0])
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	got := nextBackoff(0, 1, 4)
	if got != 1 {
		t.Fatalf("expected first backoff to be min (1), got %v", got)
	}
	got = nextBackoff(1, 1, 4)
	if got != 2 {
		t.Fatalf("expected doubled backoff (2), got %v", got)
	}
	got = nextBackoff(3, 1, 4)
	if got != 4 {
		t.Fatalf("expected backoff capped at max (4), got %v", got)
	}
}

func TestTriState(t *testing.T) {
	if TriUnknown.IsTrue() || TriUnknown.IsFalse() {
		t.Fatalf("TriUnknown should be neither true nor false")
	}
	if !TriTrue.IsTrue() || TriTrue.IsFalse() {
		t.Fatalf("TriTrue.IsTrue() should hold")
	}
	if !TriFalse.IsFalse() || TriFalse.IsTrue() {
		t.Fatalf("TriFalse.IsFalse() should hold")
	}
}
