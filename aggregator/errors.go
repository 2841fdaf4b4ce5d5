package aggregator

import "errors"

// ErrMaxValueMismatch is returned by GetAggregator when an existing
// aggregator's max_value disagrees with the value passed by the caller.
var ErrMaxValueMismatch = errors.New("aggregator: max_value mismatch for existing aggregator")

// ErrInvariant marks a code-invariant violation: a state the implementation
// must never reach. Callers (the executor package) treat this as fatal to
// the block, never as a speculative abort.
var ErrInvariant = errors.New("aggregator: code invariant violation")

// ErrUnknownSnapshot is returned by ReadSnapshot for a snapshot id that is
// not known to this transaction and that the resolver also fails to
// resolve. Snapshot/delayed-field deletion is unsupported (Open Question 1 in SPEC_FULL.md); this is the only way it
// can surface, and it is always a caller bug, not a speculative condition.
var ErrUnknownSnapshot = errors.New("aggregator: unknown snapshot id")

// SpeculativeError is the marker every speculative-failure error in this
// package implements, so callers can type-assert for it without importing
// concrete error types across package boundaries (mirrored by
// mvstore.ErrSpeculative).
type SpeculativeError interface {
	error
	Speculative() bool
}

// historyValidationError is returned when a DeltaHistory fails to validate
// against the resolver's aggregated base value: the transaction must be
// re-executed because its try_add/try_sub decisions may no longer hold.
type historyValidationError struct {
	id AggregatorID
}

func (e *historyValidationError) Error() string {
	return "aggregator: history failed to validate against aggregated base value"
}

func (e *historyValidationError) Speculative() bool { return true }

// newHistoryValidationError constructs the speculative error raised by a
// failed DeltaHistory.ValidateAgainstBase call.
func newHistoryValidationError(id AggregatorID) error {
	return &historyValidationError{id: id}
}
