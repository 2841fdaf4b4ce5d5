package blockstm

// TaskKind tags the four outcomes of Scheduler.NextTask.
type TaskKind uint8

const (
	// TaskNone means no task is currently available but the block has not
	// finished; the caller should call NextTask again.
	TaskNone TaskKind = iota
	// TaskDone means the block has finished: every transaction committed
	// or the scheduler was halted. The caller should stop looping.
	TaskDone
	// TaskExecution is an execution task for (Index, Incarnation).
	TaskExecution
	// TaskValidation is a validation task for (Index, Incarnation, Wave).
	TaskValidation
)

// Task is the unit of work handed out by Scheduler.NextTask and returned
// directly by FinishExecution as an optimisation (spec.md §4.1.2, §4.1.4).
type Task struct {
	Kind        TaskKind
	Index       TxnIndex
	Incarnation Incarnation
	Wave        Wave
}
