package road

import "sync"

// Stat key names, verbatim from spec.md §6.
const (
	StatRedoJoin     = "redo_join"
	StatRedoAccept   = "redo_accept"
	StatRedoHello    = "redo_hello"
	StatRedoInitiate = "redo_initiate"
	StatRedoFinal    = "redo_final"
	StatRedoCookie   = "redo_cookie"
	StatRedoAllow    = "redo_allow"
	StatRedoAlive    = "redo_alive"
	StatRedoSegment  = "redo_segment"

	StatStaleCorrespondentAttempt = "stale_correspondent_attempt"
	StatStaleInitiatorAttempt     = "stale_initiator_attempt"
	StatUnknownCorrespondentEid   = "unknown_correspondent_eid"
	StatUnknownInitiatorEid       = "unknown_initiator_eid"
	StatStaleCorrespondentNack    = "stale_correspondent_nack"
	StatStaleInitiatorNack        = "stale_initiator_nack"

	StatDuplicateJoinAttempt  = "duplicate_join_attempt"
	StatDuplicateYokeAttempt  = "duplicate_yoke_attempt"
	StatDuplicateAllowAttempt = "duplicate_allow_attempt"
	StatUnnecessaryYokeAttempt = "unnecessary_yoke_attempt"

	StatInvalidJoin     = "invalid_join"
	StatInvalidYoke      = "invalid_yoke"
	StatInvalidAccept    = "invalid_accept"
	StatInvalidHello     = "invalid_hello"
	StatInvalidInitiate  = "invalid_initiate"
	StatInvalidCookie    = "invalid_cookie"
	StatInvalidResend    = "invalid_resend"
	StatInvalidMisseds   = "invalid_misseds"
	StatInvalidAlive     = "invalid_alive"
	StatInvalidMessage   = "invalid_message"

	StatUnjoinedRemote         = "unjoined_remote"
	StatUnjoinedAllowAttempt   = "unjoined_allow_attempt"
	StatUnallowedRemote        = "unallowed_remote"
	StatUnallowedAliveAttempt  = "unallowed_alive_attempt"
	StatUnallowedMessageAttempt = "unallowed_message_attempt"

	StatPackingError        = "packing_error"
	StatParsingMessageError = "parsing_message_error"
	StatMessageIndexCollision = "message_index_collision"
	StatMessageSegmentTx    = "message_segment_tx"
	StatMessageSegmentRx    = "message_segment_rx"
	StatMessageSegmentAck   = "message_segment_ack"
	StatMessageResend       = "message_resend"

	StatJoinInitiateComplete      = "join_initiate_complete"
	StatJoinCorrespondComplete    = "join_correspond_complete"
	StatYokeInitiateComplete      = "yoke_initiate_complete"
	StatYokeCorrespondComplete    = "yoke_correspond_complete"
	StatAllowInitiateComplete     = "allow_initiate_complete"
	StatAllowCorrespondComplete   = "allow_correspond_complete"
	StatAliveComplete             = "alive_complete"
	StatMessageInitiateComplete   = "message_initiate_complete"
	StatMessagentCorrespondComplete = "messagent_correspond_complete"
)

// ClassFailureStat returns the per-class "<classname>_transaction_failure"
// stat key (spec §6) for a transaction kind name, e.g. "joiner" ->
// "joiner_transaction_failure".
func ClassFailureStat(className string) string {
	return className + "_transaction_failure"
}

// Stats is the Stack's counter set. All counters start at zero and are
// read lazily — Get never errors, it just returns 0 for an unseen key.
type Stats struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewStats() *Stats {
	return &Stats{counts: make(map[string]uint64)}
}

// Inc bumps key by one.
func (s *Stats) Inc(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
}

// Add bumps key by n.
func (s *Stats) Add(key string, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] += n
}

// Get returns the current value of key.
func (s *Stats) Get(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// Snapshot returns a copy of all counters, for tests and diagnostics.
func (s *Stats) Snapshot() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
