package blockstm

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// txnState bundles one transaction's execution status, validation status,
// and dependency list, each under its own lock (spec.md §3.2-§3.4, §9
// "Per-txn status lock granularity"). Lock order when more than one is
// held: dependency list -> execMu/valMu, and valMu before execMu.
type txnState struct {
	execMu sync.RWMutex
	exec   executionStatus

	valMu sync.RWMutex
	val   validationStatus

	depMu sync.Mutex
	deps  []TxnIndex
}

// Scheduler is the optimistic parallel execution scheduler of spec.md
// §4.1: it hands out execution and validation tasks, tracks per-transaction
// status, and coordinates aborts, dependencies, wave-based revalidation,
// commit ordering, and halt.
type Scheduler struct {
	numTxns TxnIndex
	txns    []*txnState

	executionIdx  atomic.Uint32
	validationIdx atomic.Uint64 // packed (wave:32 | idx:32)

	commitMu     sync.Mutex
	nextToCommit TxnIndex
	commitWave   Wave

	doneMarker atomic.Bool
	hasHalted  atomic.Bool

	lock  *ArmedLock
	queue *CommitQueue

	log log.Logger
}

// NewScheduler returns a scheduler for a block of numTxns transactions,
// every one initially Ready(0, Execution).
func NewScheduler(numTxns int, commitQueueCapacity int) *Scheduler {
	s := &Scheduler{
		numTxns: TxnIndex(numTxns),
		txns:    make([]*txnState, numTxns),
		lock:    NewArmedLock(),
		queue:   NewCommitQueue(commitQueueCapacity),
		log:     log.New("module", "blockstm/scheduler"),
	}
	for i := range s.txns {
		s.txns[i] = &txnState{exec: executionStatus{kind: execReady, ready: readyExecution}}
	}
	if numTxns == 0 {
		s.doneMarker.Store(true)
	}
	return s
}

// CommitQueue returns the scheduler's bounded MPSC of committed indices.
func (s *Scheduler) CommitQueue() *CommitQueue { return s.queue }

func packValidationIdx(idx TxnIndex, wave Wave) uint64 {
	return uint64(wave)<<32 | uint64(idx)
}

func unpackValidationIdx(v uint64) (TxnIndex, Wave) {
	return TxnIndex(uint32(v)), Wave(uint32(v >> 32))
}

// NextTask implements spec.md §4.1.2. It retries internally after a lost
// claim race, and returns TaskNone when there is nothing to validate and
// every index has already been handed out for execution.
func (s *Scheduler) NextTask() Task {
	for {
		if s.doneMarker.Load() {
			return Task{Kind: TaskDone}
		}

		vIdx, wave := unpackValidationIdx(s.validationIdx.Load())
		eIdx := TxnIndex(s.executionIdx.Load())

		min := eIdx
		if s.numTxns < min {
			min = s.numTxns
		}
		preferValidate := vIdx < min && !s.neverExecuted(vIdx)

		if !preferValidate && eIdx >= s.numTxns {
			return Task{Kind: TaskNone}
		}

		if preferValidate {
			if t, ok := s.tryValidateNextVersion(vIdx, wave); ok {
				return t
			}
			continue
		}

		if eIdx < s.numTxns {
			if t, ok := s.tryExecuteNextVersion(); ok {
				return t
			}
			continue
		}

		runtime.Gosched()
	}
}

// neverExecuted reports whether idx's status shows incarnation 0 and has
// never reached Executed: Ready(0), Executing(0), or Suspended(0).
func (s *Scheduler) neverExecuted(idx TxnIndex) bool {
	t := s.txns[idx]
	t.execMu.RLock()
	defer t.execMu.RUnlock()
	switch t.exec.kind {
	case execReady, execExecuting, execSuspended:
		return t.exec.incarnation == 0
	default:
		return false
	}
}

func (s *Scheduler) tryValidateNextVersion(vIdx TxnIndex, wave Wave) (Task, bool) {
	old := packValidationIdx(vIdx, wave)
	next := packValidationIdx(vIdx+1, wave)
	if !s.validationIdx.CompareAndSwap(old, next) {
		return Task{}, false
	}
	t := s.txns[vIdx]
	t.execMu.RLock()
	defer t.execMu.RUnlock()
	if t.exec.kind != execExecuted {
		return Task{}, false
	}
	return Task{Kind: TaskValidation, Index: vIdx, Incarnation: t.exec.incarnation, Wave: wave}, true
}

func (s *Scheduler) tryExecuteNextVersion() (Task, bool) {
	idx := TxnIndex(s.executionIdx.Add(1) - 1)
	if idx >= s.numTxns {
		return Task{}, false
	}
	t := s.txns[idx]
	t.execMu.Lock()
	defer t.execMu.Unlock()
	if t.exec.kind != execReady {
		return Task{}, false
	}
	incarnation := t.exec.incarnation
	t.exec = executionStatus{kind: execExecuting, incarnation: incarnation}
	return Task{Kind: TaskExecution, Index: idx, Incarnation: incarnation}, true
}

// decreaseValidationIdx is called whenever execution/abort of txnIdx
// requires revalidating all higher transactions (spec.md §4.1.3). Returns
// the new wave and true, or (0, false) if no reduction was needed. Callers
// must already hold txns[txnIdx].valMu for the duration of the status
// update this accompanies.
func (s *Scheduler) decreaseValidationIdx(targetIdx TxnIndex) (Wave, bool) {
	for {
		old := s.validationIdx.Load()
		curIdx, curWave := unpackValidationIdx(old)
		if curIdx <= targetIdx {
			return 0, false
		}
		newWave := curWave + 1
		next := packValidationIdx(targetIdx, newWave)
		if s.validationIdx.CompareAndSwap(old, next) {
			tt := s.txns[targetIdx]
			tt.valMu.Lock()
			if newWave > tt.val.maxTriggeredWave {
				tt.val.maxTriggeredWave = newWave
			}
			tt.valMu.Unlock()
			return newWave, true
		}
	}
}

// FinishExecution implements spec.md §4.1.4. revalidateSuffix must be true
// iff this incarnation wrote to any key not in the previous incarnation's
// write set.
func (s *Scheduler) FinishExecution(idx TxnIndex, incarnation Incarnation, revalidateSuffix bool) Task {
	t := s.txns[idx]

	t.valMu.Lock()
	t.execMu.Lock()
	if t.exec.kind == execHalted {
		t.execMu.Unlock()
		t.valMu.Unlock()
		return Task{Kind: TaskNone}
	}
	t.exec = executionStatus{kind: execExecuted, incarnation: incarnation}
	t.execMu.Unlock()

	vIdx, wave := unpackValidationIdx(s.validationIdx.Load())
	if vIdx <= idx {
		t.valMu.Unlock()
		s.wakeDependents(idx)
		return Task{Kind: TaskNone}
	}

	if revalidateSuffix {
		if newWave, ok := s.decreaseValidationIdx(idx + 1); ok {
			if newWave > wave {
				wave = newWave
			}
		}
	}

	t.val.requiredWave = wave
	t.valMu.Unlock()

	s.wakeDependents(idx)
	s.lock.Arm()

	return Task{Kind: TaskValidation, Index: idx, Incarnation: incarnation, Wave: wave}
}

// wakeDependents drains txns[idx]'s dependency list, promoting each
// dependent from Suspended to Ready(_, Wakeup) and min-updating
// executionIdx, per spec.md §4.1.4 step 3.
func (s *Scheduler) wakeDependents(idx TxnIndex) {
	t := s.txns[idx]
	t.depMu.Lock()
	waiters := t.deps
	t.deps = nil
	t.depMu.Unlock()

	for _, d := range waiters {
		dt := s.txns[d]
		dt.execMu.Lock()
		if dt.exec.kind == execSuspended {
			cv := dt.exec.wakeupCV
			dt.exec = executionStatus{kind: execReady, incarnation: dt.exec.incarnation, ready: readyWakeup, wakeupCV: cv}
			dt.execMu.Unlock()
			cv.signal(depResolved)
			s.minUpdateExecutionIdx(d)
		} else {
			dt.execMu.Unlock()
		}
	}
}

func (s *Scheduler) minUpdateExecutionIdx(idx TxnIndex) {
	for {
		cur := s.executionIdx.Load()
		if TxnIndex(cur) <= idx {
			return
		}
		if s.executionIdx.CompareAndSwap(cur, uint32(idx)) {
			return
		}
	}
}

// WaitForDependency implements spec.md §4.1.5. On DependencySuspended, the
// caller must invoke the returned wait function (blocking, no scheduler
// lock held) and treat its return value as the resolution.
func (s *Scheduler) WaitForDependency(txnIdx, depIdx TxnIndex) (DependencyOutcome, func() DependencyOutcome) {
	cv := newDependencyCondVar()

	dt := s.txns[depIdx]
	dt.depMu.Lock()
	defer dt.depMu.Unlock()

	dt.execMu.RLock()
	depKind := dt.exec.kind
	dt.execMu.RUnlock()
	if depKind == execExecuted || depKind == execCommitted {
		return DependencyAlreadyResolved, nil
	}

	t := s.txns[txnIdx]
	t.execMu.Lock()
	if t.exec.kind == execHalted {
		t.execMu.Unlock()
		return DependencyExecutionHalted, nil
	}
	incarnation := t.exec.incarnation
	t.exec = executionStatus{kind: execSuspended, incarnation: incarnation, wakeupCV: cv}
	t.execMu.Unlock()

	dt.deps = append(dt.deps, txnIdx)

	return DependencySuspended, func() DependencyOutcome {
		switch cv.wait() {
		case depHalted:
			return DependencyExecutionHalted
		default:
			return DependencyAlreadyResolved
		}
	}
}

// TryAbort implements spec.md §4.1.6: CAS status from Executed(i) to
// Aborting(i). Exactly one caller succeeds for a given version.
func (s *Scheduler) TryAbort(idx TxnIndex, incarnation Incarnation) bool {
	t := s.txns[idx]
	t.execMu.Lock()
	defer t.execMu.Unlock()
	if t.exec.kind != execExecuted || t.exec.incarnation != incarnation {
		return false
	}
	t.exec = executionStatus{kind: execAborting, incarnation: incarnation}
	return true
}

// FinishAbort implements spec.md §4.1.6.
func (s *Scheduler) FinishAbort(idx TxnIndex, incarnation Incarnation) Task {
	t := s.txns[idx]

	t.valMu.Lock()
	t.execMu.Lock()
	if t.exec.kind == execHalted {
		t.execMu.Unlock()
		t.valMu.Unlock()
		return Task{Kind: TaskNone}
	}
	t.exec = executionStatus{kind: execReady, incarnation: incarnation + 1, ready: readyExecution}
	t.execMu.Unlock()

	s.decreaseValidationIdx(idx + 1)
	t.valMu.Unlock()

	if TxnIndex(s.executionIdx.Load()) > idx {
		if task, ok := s.tryIncarnate(idx); ok {
			return task
		}
	}
	return Task{Kind: TaskNone}
}

// tryIncarnate attempts to claim idx for execution directly (used by
// FinishAbort as an optimisation bypassing NextTask for this index).
func (s *Scheduler) tryIncarnate(idx TxnIndex) (Task, bool) {
	t := s.txns[idx]
	t.execMu.Lock()
	defer t.execMu.Unlock()
	if t.exec.kind != execReady {
		return Task{}, false
	}
	incarnation := t.exec.incarnation
	t.exec = executionStatus{kind: execExecuting, incarnation: incarnation}
	return Task{Kind: TaskExecution, Index: idx, Incarnation: incarnation}, true
}

// FinishValidation records the outcome of a validation task. success=false
// means the transaction must be aborted (the caller should then call
// TryAbort/FinishAbort); success=true updates maxValidatedWave and arms the
// commit lock, since the transaction may now be committable.
func (s *Scheduler) FinishValidation(idx TxnIndex, wave Wave, success bool) {
	t := s.txns[idx]
	t.valMu.Lock()
	defer t.valMu.Unlock()
	if t.val.maxValidatedWaveSet && t.val.maxValidatedWave >= wave {
		return
	}
	if success {
		t.val.maxValidatedWave = wave
		t.val.maxValidatedWaveSet = true
		s.lock.Arm()
	}
}

// TryCommit implements spec.md §4.1.7. Callers should only invoke this
// after winning Scheduler's ArmedLock via TryCoordinateCommits.
func (s *Scheduler) TryCommit() (CommitResult, bool) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.nextToCommit >= s.numTxns {
		return CommitResult{}, false
	}
	next := s.nextToCommit
	t := s.txns[next]

	t.valMu.RLock()
	t.execMu.RLock()

	if t.exec.kind != execExecuted {
		t.execMu.RUnlock()
		t.valMu.RUnlock()
		s.lock.Arm()
		return CommitResult{}, false
	}

	if t.val.maxTriggeredWave > s.commitWave {
		s.commitWave = t.val.maxTriggeredWave
	}

	if !t.val.committable(s.commitWave) {
		t.execMu.RUnlock()
		t.valMu.RUnlock()
		s.lock.Arm()
		return CommitResult{}, false
	}

	incarnation := t.exec.incarnation
	t.execMu.RUnlock()
	t.valMu.RUnlock()

	t.execMu.Lock()
	t.exec = executionStatus{kind: execCommitted, incarnation: incarnation}
	t.execMu.Unlock()

	s.nextToCommit++
	if s.nextToCommit >= s.numTxns {
		s.doneMarker.Store(true)
	}

	result := CommitResult{Index: next, Incarnation: incarnation}
	s.queue.Push(result)
	return result, true
}

// TryCoordinateCommits attempts to become the single commit coordinator; on
// success the caller should loop TryCommit until it returns false, then
// call Unlock.
func (s *Scheduler) TryCoordinateCommits() bool { return s.lock.TryLock() }

// ReleaseCommitCoordination releases the ArmedLock after a
// TryCoordinateCommits/TryCommit loop.
func (s *Scheduler) ReleaseCommitCoordination() { s.lock.Unlock() }

// Halt implements spec.md §4.1.8. Returns true exactly once.
func (s *Scheduler) Halt() bool {
	if s.hasHalted.Swap(true) {
		return false
	}
	s.doneMarker.Store(true)

	for i := range s.txns {
		t := s.txns[i]
		t.execMu.Lock()
		if t.exec.kind == execSuspended || (t.exec.kind == execReady && t.exec.ready == readyWakeup) {
			cv := t.exec.wakeupCV
			t.exec = executionStatus{kind: execHalted}
			t.execMu.Unlock()
			if cv != nil {
				cv.signal(depHalted)
			}
			continue
		}
		t.exec = executionStatus{kind: execHalted}
		t.execMu.Unlock()
	}

	s.log.Info("scheduler halted", "numTxns", s.numTxns)
	return true
}

// Done reports whether the scheduler has finished (every transaction
// committed, or halted).
func (s *Scheduler) Done() bool { return s.doneMarker.Load() }

// NumTxns returns the block size this scheduler was constructed with.
func (s *Scheduler) NumTxns() TxnIndex { return s.numTxns }
