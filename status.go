// Package blockstm implements the optimistic parallel transaction execution
// engine's scheduler: task selection, per-transaction execution/validation
// status, dependency handling, abort, wave-based revalidation, commit
// coordination, and halt.
package blockstm

// TxnIndex is the 32-bit index of a transaction within a block.
type TxnIndex uint32

// Incarnation is the monotonically increasing execution-attempt number for
// a given TxnIndex. Incarnation 0 is the first attempt.
type Incarnation uint32

// Wave is a 32-bit validation epoch, strictly increasing over the lifetime
// of a block.
type Wave uint32

// execKind tags the per-transaction execution status states of spec.md §3.2.
type execKind uint8

const (
	execReady execKind = iota
	execExecuting
	execSuspended
	execExecuted
	execAborting
	execCommitted
	execHalted
)

// readyTask distinguishes why a Ready status is eligible for an execution
// task: a fresh Execution attempt, or a Wakeup carrying the dependency
// rendezvous that should be signalled once the worker resumes.
type readyTask uint8

const (
	readyExecution readyTask = iota
	readyWakeup
)

// executionStatus is the tagged execution-status value of spec.md §3.2,
// protected by the owning txnState's execMu.
type executionStatus struct {
	kind        execKind
	incarnation Incarnation
	ready       readyTask         // meaningful when kind == execReady
	wakeupCV    *dependencyCondVar // meaningful when kind == execReady && ready == readyWakeup, or kind == execSuspended
}

// validationStatus is the per-transaction wave bookkeeping of spec.md §3.3,
// protected by the owning txnState's valMu.
type validationStatus struct {
	maxTriggeredWave    Wave
	requiredWave        Wave
	maxValidatedWave    Wave
	maxValidatedWaveSet bool
}

// committable reports the commit predicate of spec.md §3.3: the status must
// be Executed(i) (checked by the caller) and validation must have cleared
// at least max(commitWave, requiredWave).
func (v *validationStatus) committable(commitWave Wave) bool {
	if !v.maxValidatedWaveSet {
		return false
	}
	threshold := commitWave
	if v.requiredWave > threshold {
		threshold = v.requiredWave
	}
	return v.maxValidatedWave >= threshold
}
