package blockstm

import "sync"

// depState is the resolution a dependencyCondVar eventually carries.
type depState uint8

const (
	depUnresolved depState = iota
	depResolved
	depHalted
)

// dependencyCondVar is a single-producer/single-consumer rendezvous shared
// between exactly two parties: the suspended worker and whichever thread
// resolves the dependency (the executor of the dependency txn, or the
// halter), per spec.md §9 "Dependency condition variables as
// ownership-sharing handles". It is modelled as a channel closed exactly
// once rather than a sync.Cond, since Go channels give the same
// single-wait/single-notify rendezvous without the can't-miss-a-signal
// bookkeeping a raw condvar needs.
type dependencyCondVar struct {
	mu    sync.Mutex
	state depState
	ch    chan struct{}
}

func newDependencyCondVar() *dependencyCondVar {
	return &dependencyCondVar{ch: make(chan struct{})}
}

// signal resolves the condvar exactly once; later calls are no-ops, mirroring
// the "every condition variable is bound to exactly one suspended worker"
// invariant of spec.md §5.
func (d *dependencyCondVar) signal(s depState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != depUnresolved {
		return
	}
	d.state = s
	close(d.ch)
}

// wait blocks until signalled and returns the terminal state.
func (d *dependencyCondVar) wait() depState {
	<-d.ch
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DependencyOutcome is the result of Scheduler.WaitForDependency (spec.md
// §4.1.5).
type DependencyOutcome uint8

const (
	// DependencyAlreadyResolved means dep_idx had already executed or
	// committed; the caller should re-attempt its read immediately.
	DependencyAlreadyResolved DependencyOutcome = iota
	// DependencySuspended means the caller's worker has been suspended and
	// must block on the returned wait function until it is woken.
	DependencySuspended
	// DependencyExecutionHalted means the block was halted while the
	// caller was attempting to suspend.
	DependencyExecutionHalted
)
