// Package keep is a concrete stand-in for the keep layer: persistence and
// acceptance-checking of remote credentials. The real keep layer (on-disk
// format, operator approval workflow) is an out-of-scope collaborator per
// spec.md §1; this package provides the interface road.Stack depends on
// plus one in-memory reference implementation, grounded on
// pkg/session/table.go's registry shape (map + mutex + id bookkeeping)
// repurposed to hold acceptance verdicts instead of session contexts.
package keep

import (
	"sync"

	"github.com/oreobind/road/pkg/packet"
)

// Record is the durable snapshot of one remote's identity, the information
// Stack.persist (spec §2.1) hands to the keep layer after every accepted
// mutation.
type Record struct {
	UID     uint32
	Name    string
	Role    string
	Host    string
	Port    uint16
	VerHex  [32]byte
	PubHex  [32]byte
	Sid     uint32
}

// Keep is the interface road.Stack uses to check and persist remote
// credentials. Accepted answers "should this role/verhex/pubhex triple be
// allowed to join", independent of whatever Save/Load durability the
// implementation provides.
type Keep interface {
	// Accepted reports the acceptance status previously recorded for this
	// role+key pair, or the implementation's default verdict if never seen
	// before (MemoryKeep's is set by NewMemoryKeep).
	Accepted(role string, verhex, pubhex [32]byte) packet.AcceptStatus

	// Save persists (or updates) a remote record.
	Save(r Record) error

	// Load retrieves a previously saved record by uid.
	Load(uid uint32) (Record, bool)

	// LoadByName retrieves a previously saved record by name.
	LoadByName(name string) (Record, bool)
}

// MemoryKeep is an in-memory reference Keep, adequate for tests and for a
// single-process deployment with no durability requirement. Production
// deployments are expected to supply their own Keep backed by real
// storage — this package intentionally mirrors only the shape of
// pkg/session.Table, not a production keep-store design.
type MemoryKeep struct {
	mu sync.Mutex

	byUID  map[uint32]Record
	byName map[string]Record

	// defaultStatus is returned by Accepted for keys never explicitly
	// approved or rejected. Tests typically set this to
	// packet.AcceptStatusAccepted to exercise the "auto-accept" path
	// spec.md's end-to-end scenario 1 describes.
	defaultStatus packet.AcceptStatus
	verdicts      map[verdictKey]packet.AcceptStatus
}

type verdictKey struct {
	role   string
	verhex [32]byte
	pubhex [32]byte
}

// NewMemoryKeep returns an empty MemoryKeep. defaultStatus governs the
// verdict for credentials that have never been explicitly approved or
// rejected via Approve/Reject.
func NewMemoryKeep(defaultStatus packet.AcceptStatus) *MemoryKeep {
	return &MemoryKeep{
		byUID:         make(map[uint32]Record),
		byName:        make(map[string]Record),
		defaultStatus: defaultStatus,
		verdicts:      make(map[verdictKey]packet.AcceptStatus),
	}
}

func (k *MemoryKeep) Accepted(role string, verhex, pubhex [32]byte) packet.AcceptStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.verdicts[verdictKey{role, verhex, pubhex}]; ok {
		return v
	}
	return k.defaultStatus
}

// Approve records an explicit "accepted" verdict for this credential pair.
func (k *MemoryKeep) Approve(role string, verhex, pubhex [32]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verdicts[verdictKey{role, verhex, pubhex}] = packet.AcceptStatusAccepted
}

// Reject records an explicit "rejected" verdict for this credential pair.
func (k *MemoryKeep) Reject(role string, verhex, pubhex [32]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.verdicts[verdictKey{role, verhex, pubhex}] = packet.AcceptStatusRejected
}

func (k *MemoryKeep) Save(r Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byUID[r.UID] = r
	k.byName[r.Name] = r
	return nil
}

func (k *MemoryKeep) Load(uid uint32) (Record, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.byUID[uid]
	return r, ok
}

func (k *MemoryKeep) LoadByName(name string) (Record, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.byName[name]
	return r, ok
}
