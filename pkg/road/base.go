package road

import (
	"github.com/oreobind/road/pkg/packet"
)

// TxKind aliases packet.TransKind so road code doesn't need to import
// packet just to name a transaction's kind.
type TxKind = packet.TransKind

// Transaction is the common contract every exchange (Joiner/Joinent,
// Yoker/Yokent, Allower/Allowent, Aliver/Alivent, Messenger/Messengent)
// implements. It replaces the teacher/original's class-hierarchy approach
// with the tagged-variant-over-a-shared-scaffold design spec.md §9
// prescribes: a Role field plus per-kind structs embedding *txBase.
type Transaction interface {
	Index() Index
	Kind() TxKind
	Remote() *Remote

	// Receive is called by the Stack when an inbound packet matches this
	// transaction's index. Implementations must call storeRx(pkt) before
	// dispatching (the base-class "super-call" spec.md §4.1 describes).
	Receive(pkt *packet.Packet)

	// Process is ticked once per Stack.Process call for every live
	// transaction; the default txBase.Process implements the shared
	// redo/timeout scaffold.
	Process(dt float64)

	// Nack is the default no-op placeholder spec.md §4.1 calls for;
	// concrete kinds override it where a nack has a corrective action.
	Nack(kind packet.PacketKind)
}

// Params configures a transaction's timers (spec.md §6 "Configuration
// recognized").
type Params struct {
	Timeout        float64 // seconds; 0 disables the outer timeout
	RedoTimeoutMin float64
	RedoTimeoutMax float64
	Cascade        bool
	Wait           bool
	Bcst           bool
}

// WithDefaults fills zero fields from defaults, the same zero-value
// replacement convention as the teacher's session.Params.WithDefaults.
func (p Params) WithDefaults(defaults Params) Params {
	if p.Timeout == 0 {
		p.Timeout = defaults.Timeout
	}
	if p.RedoTimeoutMin == 0 {
		p.RedoTimeoutMin = defaults.RedoTimeoutMin
	}
	if p.RedoTimeoutMax == 0 {
		p.RedoTimeoutMax = defaults.RedoTimeoutMax
	}
	return p
}

// txBase is the shared scaffold every concrete transaction embeds
// (spec.md §4.1, C1). self holds the outer concrete Transaction so the
// base can register/unregister itself on the remote without requiring Go
// virtual dispatch.
type txBase struct {
	stack  *Stack
	remote *Remote
	self   Transaction

	kind TxKind
	rmt  bool // this endpoint's own role: false=initiator, true=correspondent
	bcst bool
	wait bool

	sid uint32
	tid uint32

	idx     Index
	removed bool

	params Params

	elapsedTotal float64
	elapsedTx    float64
	nextRedo     float64
	redoStat     string
	failureStat  string

	txPacket *packet.Packet
	rxPacket *packet.Packet
}

func newTxBase(stack *Stack, remote *Remote, self Transaction, kind TxKind, rmt bool, params Params, redoStat, failureStat string) *txBase {
	return &txBase{
		stack:       stack,
		remote:      remote,
		self:        self,
		kind:        kind,
		rmt:         rmt,
		bcst:        params.Bcst,
		wait:        params.Wait,
		params:      params,
		nextRedo:    params.RedoTimeoutMin,
		redoStat:    redoStat,
		failureStat: failureStat,
	}
}

func (t *txBase) Index() Index      { return t.idx }
func (t *txBase) Kind() TxKind      { return t.kind }
func (t *txBase) Remote() *Remote   { return t.remote }
func (t *txBase) Nack(packet.PacketKind) {}

// Add registers this transaction under idx on its remote, recording idx as
// the transaction's own index for later Remove calls. It also clears the
// removed mark a preceding RemoveIndex set, so a transaction re-registered
// under a new index keeps redoing and can still be removed.
func (t *txBase) Add(idx Index) {
	t.idx = idx
	t.removed = false
	t.remote.Add(idx, t.self)
}

// Remove unregisters this transaction under its last-known index. A
// transaction whose index changed mid-flight (spec.md §4.3's "index-change
// subtlety") must call RemoveIndex with the pre-mutation index instead.
func (t *txBase) Remove() {
	if t.removed {
		return
	}
	t.removed = true
	t.remote.Remove(t.idx)
}

// RemoveIndex unregisters explicitly at idx rather than at t.idx — used by
// Joinent.accept and Yokent.renew to drop the pre-accept index before they
// re-register with Add under the post-accept one.
func (t *txBase) RemoveIndex(idx Index) {
	if t.removed {
		return
	}
	t.removed = true
	t.remote.Remove(idx)
}

func (t *txBase) Removed() bool { return t.removed }

// storeRx records the most recently received packet; concrete Receive
// implementations call this first, the Go equivalent of the base-class
// super-call spec.md §4.1 describes.
func (t *txBase) storeRx(pkt *packet.Packet) {
	t.rxPacket = pkt
}

// Transmit packs and enqueues pkt on the stack's outbound queue, per
// spec.md §4.1. On failure it bumps a stat and removes the transaction.
func (t *txBase) Transmit(pkt *packet.Packet) {
	data, err := pkt.Pack()
	if err != nil {
		t.stack.Stats.Inc(StatPackingError)
		t.Remove()
		return
	}
	if t.remote.NetAddr == nil {
		t.stack.Stats.Inc(t.failureStat)
		t.Remove()
		return
	}
	t.stack.enqueueOutbound(data, t.remote.NetAddr)
	t.txPacket = pkt
	t.elapsedTx = 0
	t.nextRedo = t.params.RedoTimeoutMin
}

// Process implements the shared redo/timeout scaffold: a transaction with
// no outstanding send just ages toward its outer timeout; one with an
// unacked txPacket redoes it on a doubling backoff between RedoTimeoutMin
// and RedoTimeoutMax (spec.md §4.3's retransmission rule, generalized to
// every transaction kind).
func (t *txBase) Process(dt float64) {
	if t.removed {
		return
	}
	t.elapsedTotal += dt
	t.elapsedTx += dt

	if t.params.Timeout > 0 && t.elapsedTotal >= t.params.Timeout {
		t.onTimeout()
		return
	}

	if t.txPacket != nil && t.elapsedTx >= t.nextRedo {
		t.redo()
	}
}

// redo retransmits the last outbound packet and doubles the backoff,
// capped at RedoTimeoutMax — the per-kind stat bump on every redo is one
// of the features spec.md distills away but the original keeps (see
// SPEC_FULL.md §2.1).
func (t *txBase) redo() {
	if t.redoStat != "" {
		t.stack.Stats.Inc(t.redoStat)
	}
	if t.txPacket != nil && t.remote.NetAddr != nil {
		t.stack.enqueueOutbound(t.txPacket.Packed, t.remote.NetAddr)
	}
	t.elapsedTx = 0
	t.nextRedo = nextBackoff(t.nextRedo, t.params.RedoTimeoutMin, t.params.RedoTimeoutMax)
}

// onTimeout implements spec.md §5/§7's cancellation rule: the
// correspondent side's Nack override sends a nack packet before removal,
// the initiator side's overrides only flip local state (its removal stays
// silent on the wire).
func (t *txBase) onTimeout() {
	if t.failureStat != "" {
		t.stack.Stats.Inc(t.failureStat)
	}
	t.self.Nack(packet.PacketKindNack)
	t.Remove()
}
