package blockstm

import "fmt"

// PanicError marks a code-invariant violation: a state the scheduler must
// never reach (spec.md §7.2). The executor is expected to log it and halt
// the block; it is never a signal to retry.
type PanicError struct {
	msg string
}

func (e *PanicError) Error() string { return "blockstm: invariant violation: " + e.msg }

func panicErrorf(format string, args ...any) *PanicError {
	return &PanicError{msg: fmt.Sprintf(format, args...)}
}

// NewPanicError wraps err as a PanicError, for callers outside this package
// escalating a code-invariant violation (spec.md §7.2).
func NewPanicError(err error) *PanicError {
	return panicErrorf("%s", err)
}
