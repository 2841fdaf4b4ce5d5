package mvstore

import "errors"

// errDeletedV1Aggregator is wrapped into ErrSpeculative when a transaction
// reads a v1 aggregator key that a lower-indexed transaction destroyed, as
// recorded by Store.MarkDestroyedV1 (spec.md §7.1: "storage read of a
// deleted/absent aggregator").
var errDeletedV1Aggregator = errors.New("mvstore: v1 aggregator key was destroyed")

// speculativeError implements aggregator.SpeculativeError so the executor
// can type-switch on it without importing this package's concrete type.
type speculativeError struct {
	err error
}

func (e *speculativeError) Error() string     { return e.err.Error() }
func (e *speculativeError) Speculative() bool { return true }
func (e *speculativeError) Unwrap() error     { return e.err }

// ErrSpeculative wraps err as a speculative failure: the executor must
// abort and re-execute the current incarnation rather than treat it as a
// code-invariant violation.
func ErrSpeculative(err error) error {
	return &speculativeError{err: err}
}
