package road

import "errors"

// Sentinel errors, grounded on the teacher's per-package errors.go
// convention (pkg/exchange/errors.go, pkg/transport/errors.go). None of
// these propagate above the Stack as Go errors in the steady state — per
// spec.md §7, transaction failures surface only via joined/allowed/alived
// flag flips and stat counters. No function in this package currently
// returns any of them; NewStack itself cannot fail.
var (
	ErrNoTransport      = errors.New("road: stack has no transport bound")
	ErrNoKeep           = errors.New("road: stack has no keep layer bound")
	ErrUnknownRemote    = errors.New("road: no such remote")
	ErrDuplicateUID     = errors.New("road: uid already registered")
	ErrDuplicateName    = errors.New("road: name already registered")
	ErrDuplicateHA      = errors.New("road: host address already registered")
	ErrNotMain          = errors.New("road: operation requires the main role")
	ErrImmutableRoad    = errors.New("road: identity change requires a mutable road")
	ErrTransactionExists = errors.New("road: a transaction already occupies this index")
	ErrNotJoined        = errors.New("road: remote is not joined")
	ErrNotAllowed       = errors.New("road: remote is not allowed")
)
