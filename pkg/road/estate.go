package road

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/oreobind/road/pkg/crypto"
)

// Estate is a peer identity: uid, name, role, address, and long-term keys
// (GLOSSARY: "Estate: a peer identity"). Remote and Local both embed it.
type Estate struct {
	UID    uint32
	Name   string
	Role   string
	Host   string
	Port   uint16
	VerHex [32]byte
	PubHex [32]byte
}

// Addr returns the host:port address used as the haRemotes key and as the
// fallback half of a transaction index while uid is still 0.
func (e Estate) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ID returns the uid-or-address PeerID this estate presents in a
// transaction index.
func (e Estate) ID() PeerID {
	return uidOrAddr(e.UID, e.Host, e.Port)
}

// Remote is a known counterpart (spec.md §3). correlationID is a
// log-correlation id, not cryptographic material — every oreo/nonce
// still comes from crypto/rand, per SPEC_FULL.md's domain-stack note on
// google/uuid's scope.
type Remote struct {
	Estate

	// NetAddr is the concrete transport address used to actually send to
	// this remote — distinct from Estate.Host/Port, which are the road
	// identity fields used for haRemotes uniqueness and wire addressing
	// text, not necessarily a resolvable net.Addr (an in-memory Pipe
	// endpoint's address is a bare name, not a dialable host:port).
	NetAddr net.Addr

	Joined  TriState
	Allowed TriState
	Alived  bool

	Sid  uint32 // current session id
	Rsid uint32 // last-received session id
	tid  uint32 // next transaction id counter

	// joinRenewed caps a join initiation at one renew restart, per spec.md
	// §8's "renew loop terminates" — without this a correspondent that
	// keeps refusing the minted uid would bounce the joiner forever.
	joinRenewed bool

	Short        *crypto.BoxKeyPair // this endpoint's ephemeral short-term keypair, regenerated by Rekey
	PeerShortPub [32]byte          // the remote's ephemeral short-term public key, learned during Allow
	Oreo         [24]byte          // the nonce-proof exchanged between cookie and initiate

	correlationID uuid.UUID

	transactions map[Index]Transaction

	// savedMsgs holds application payloads handed to SendMessage while the
	// remote wasn't allowed yet; they replay once the allow handshake the
	// stash kicked off completes (spec.md §4.5's "replay saved messages").
	savedMsgs [][]byte
}

// NewRemote constructs a Remote in the vacuous (uid=0, sid=0) state.
func NewRemote(name, role, host string, port uint16) *Remote {
	return &Remote{
		Estate:       Estate{Name: name, Role: role, Host: host, Port: port},
		correlationID: uuid.New(),
		transactions: make(map[Index]Transaction),
	}
}

// NextTid returns the next transaction id for this remote, per spec.md
// §4.3 ("tid = remote.nextTid()").
func (r *Remote) NextTid() uint32 {
	r.tid++
	return r.tid
}

// Rekey regenerates the ephemeral short-term keypair and clears Allowed,
// per spec.md §4.5's Allower precondition ("Call remote.rekey() ... and
// clear allowed").
func (r *Remote) Rekey() error {
	kp, err := crypto.GenerateBoxKeyPair()
	if err != nil {
		return err
	}
	r.Short = kp
	r.Allowed = TriFalse
	return nil
}

// Refresh updates the liveness flag — Aliver/Alivent's "remote.refresh(alived=true)".
func (r *Remote) Refresh(alived bool) {
	r.Alived = alived
}

// Add registers t under idx in this remote's transaction table.
func (r *Remote) Add(idx Index, t Transaction) {
	r.transactions[idx] = t
}

// Remove unregisters whatever transaction is at idx, if any.
func (r *Remote) Remove(idx Index) {
	delete(r.transactions, idx)
}

// Get returns the transaction registered at idx, if any.
func (r *Remote) Get(idx Index) (Transaction, bool) {
	t, ok := r.transactions[idx]
	return t, ok
}

// Transactions returns a snapshot slice of all live transactions, for the
// Stack's process tick.
func (r *Remote) Transactions() []Transaction {
	out := make([]Transaction, 0, len(r.transactions))
	for _, t := range r.transactions {
		out = append(out, t)
	}
	return out
}

// SaveMessage queues body for replay once an allow handshake completes.
func (r *Remote) SaveMessage(body []byte) {
	r.savedMsgs = append(r.savedMsgs, body)
}

func (r *Remote) takeSavedMessages() [][]byte {
	msgs := r.savedMsgs
	r.savedMsgs = nil
	return msgs
}

// RemoveStaleInitiators drops initiator-side transactions registered
// under a session id older than sid — called right after a join or allow
// advances Sid, per spec.md §3's "stale transactions under the old sid are
// discarded". Vacuous (sid 0) registrations are left alone: a join in
// flight is indexed under sid 0 by definition, not staleness.
func (r *Remote) RemoveStaleInitiators(sid uint32) {
	for idx := range r.transactions {
		if !idx.Rmt && idx.Sid != 0 && idx.Sid < sid {
			delete(r.transactions, idx)
		}
	}
}

// HasKindInProgress reports whether any transaction of kind k with the
// given role is currently registered — used by Joinent.manage-style
// duplicate scans (spec.md §2.1) and by Yoker/Allower's pre-emption rules.
func (r *Remote) HasKindInProgress(k TxKindFilter) bool {
	for idx, t := range r.transactions {
		if t.Kind() == k.Kind && idx.Rmt == k.Rmt {
			return true
		}
	}
	return false
}

// TxKindFilter selects transactions by kind and role for HasKindInProgress.
type TxKindFilter struct {
	Kind TxKind
	Rmt  bool
}

// Local is the owning endpoint's own peer record (spec.md §3), plus the
// main/mutable flags that govern join-acceptance authority.
type Local struct {
	Estate

	// Main marks the authoritative endpoint allowed to mint remote uids
	// (GLOSSARY: "Main").
	Main bool

	// Mutable allows identity (name/ha) to change after first join
	// (GLOSSARY: "Mutable road").
	Mutable bool

	// LongTerm and Signing are this endpoint's own long-term private key
	// material. Remote never carries private halves — only the public
	// VerHex/PubHex mirrors presented during join. Allow's handshake uses
	// these to authenticate the ephemeral channel it negotiates.
	LongTerm *crypto.BoxKeyPair
	Signing  *crypto.SignKeyPair
}

// NewLocal mints fresh long-term box and signing keypairs for a local
// identity and mirrors their public halves into the embedded Estate.
func NewLocal(name, role, host string, port uint16, main, mutable bool) (*Local, error) {
	longTerm, err := crypto.GenerateBoxKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := crypto.GenerateSignKeyPair()
	if err != nil {
		return nil, err
	}
	return &Local{
		Estate:   Estate{Name: name, Role: role, Host: host, Port: port, VerHex: signing.Public, PubHex: longTerm.Public},
		Main:     main,
		Mutable:  mutable,
		LongTerm: longTerm,
		Signing:  signing,
	}, nil
}

// snapshot returns a value copy of l, used where a transaction needs to
// remember what the local identity looked like at construction time.
func (l *Local) snapshot() Local {
	return *l
}
