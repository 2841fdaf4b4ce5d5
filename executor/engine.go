package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/JekaMas/workerpool"
	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/blockstm-labs/blockstm/mvstore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"
)

// Engine is the Block Executor driver (spec.md §2/§6 "Exposed — driver"):
// it owns a fixed worker pool, feeds Scheduler, drives Task through
// AggregatorData, and materialises + publishes committed output.
type Engine struct {
	cfg       Config
	scheduler *blockstm.Scheduler
	store     *mvstore.Store
	tasks     []Task

	pool *workerpool.WorkerPool

	commitFeed event.Feed

	execs            metrics.Counter
	aborts           metrics.Counter
	validations      metrics.Counter
	validationFails  metrics.Counter
	commits          metrics.Counter

	logger log.Logger

	writeMu   sync.Mutex
	writeSets map[blockstm.TxnIndex]writeSet

	// group collects the first code-invariant error raised by any
	// execution/validation goroutine (spec.md §4.4 / §7.2): runGuarded
	// recovers the *blockstm.PanicError panicked by handleTaskError and
	// feeds it in via a one-shot Go, and Run's final Wait returns
	// whichever error arrived first.
	group *errgroup.Group
}

// writeSet is the keys/aggregator ids a transaction's most recent
// incarnation wrote, used to decide revalidate_suffix (spec.md §6).
type writeSet struct {
	keys map[common.Hash]struct{}
	aggs map[aggregator.AggregatorID]struct{}
}

func newWriteSet(r ExecutionResult) writeSet {
	ws := writeSet{keys: make(map[common.Hash]struct{}, len(r.WrittenKeys)), aggs: make(map[aggregator.AggregatorID]struct{}, len(r.WrittenAggregators))}
	for _, k := range r.WrittenKeys {
		ws.keys[k] = struct{}{}
	}
	for _, a := range r.WrittenAggregators {
		ws.aggs[a] = struct{}{}
	}
	return ws
}

func (a writeSet) differsFrom(b writeSet) bool {
	if len(a.keys) != len(b.keys) || len(a.aggs) != len(b.aggs) {
		return true
	}
	for k := range a.keys {
		if _, ok := b.keys[k]; !ok {
			return true
		}
	}
	for id := range a.aggs {
		if _, ok := b.aggs[id]; !ok {
			return true
		}
	}
	return false
}

// NewEngine constructs an Engine for a block of len(tasks) transactions.
func NewEngine(cfg Config, store *mvstore.Store, tasks []Task) *Engine {
	g, _ := errgroup.WithContext(context.Background())
	return &Engine{
		cfg:             cfg,
		scheduler:       blockstm.NewScheduler(len(tasks), cfg.CommitQueueCapacity),
		store:           store,
		tasks:           tasks,
		pool:            workerpool.New(cfg.Workers),
		execs:           metrics.NewRegisteredCounter("blockstm/executor/executions", nil),
		aborts:          metrics.NewRegisteredCounter("blockstm/executor/aborts", nil),
		validations:     metrics.NewRegisteredCounter("blockstm/executor/validations", nil),
		validationFails: metrics.NewRegisteredCounter("blockstm/executor/validation_failures", nil),
		commits:         metrics.NewRegisteredCounter("blockstm/executor/commits", nil),
		logger:          log.New("module", "blockstm/executor"),
		writeSets:       make(map[blockstm.TxnIndex]writeSet),
		group:           g,
	}
}

// SubscribeCommits subscribes ch to every confirmed commit, in commit
// order.
func (e *Engine) SubscribeCommits(ch chan<- blockstm.CommitResult) event.Subscription {
	return e.commitFeed.Subscribe(ch)
}

// Scheduler returns the underlying scheduler, mostly useful for tests.
func (e *Engine) Scheduler() *blockstm.Scheduler { return e.scheduler }

// Run drives the block to completion: every transaction committed, or a
// halt. It returns the first code-invariant error encountered, if any.
func (e *Engine) Run(ctx context.Context) error {
	for !e.scheduler.Done() {
		if err := ctx.Err(); err != nil {
			e.scheduler.Halt()
			return err
		}

		task := e.scheduler.NextTask()
		e.dispatch(ctx, task)
		e.tryCoordinateCommits(ctx)
	}

	e.pool.StopWait()

	err := e.group.Wait()

	e.logger.Info("block execution finished",
		"txns", e.scheduler.NumTxns(),
		"executions", e.execs.Count(),
		"aborts", e.aborts.Count(),
		"validations", e.validations.Count(),
		"commits", e.commits.Count(),
	)
	return err
}

func (e *Engine) dispatch(ctx context.Context, t blockstm.Task) {
	switch t.Kind {
	case blockstm.TaskExecution:
		idx, inc := t.Index, t.Incarnation
		e.pool.Submit(func() { e.runGuarded(func() { e.runExecution(ctx, idx, inc) }) })
	case blockstm.TaskValidation:
		idx, inc, wave := t.Index, t.Incarnation, t.Wave
		e.pool.Submit(func() { e.runGuarded(func() { e.runValidation(ctx, idx, inc, wave) }) })
	case blockstm.TaskNone, blockstm.TaskDone:
		// Nothing to hand to a worker.
	}
}

// runGuarded recovers a *blockstm.PanicError raised for a code-invariant
// violation (spec.md §7.2), so one transaction's fatal error halts the
// block gracefully through group.Wait rather than crashing the pool's
// goroutine. Any other panic is wrapped the same way, on the assumption
// that an unrecognised panic is itself a code-invariant bug.
func (e *Engine) runGuarded(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pe, ok := r.(*blockstm.PanicError)
		if !ok {
			pe = blockstm.NewPanicError(fmt.Errorf("%v", r))
		}
		e.group.Go(func() error { return pe })
		if e.cfg.HaltOnFirstError {
			e.scheduler.Halt()
		}
	}()
	fn()
}

func (e *Engine) tryCoordinateCommits(ctx context.Context) {
	if !e.scheduler.TryCoordinateCommits() {
		return
	}
	e.pool.Submit(func() { e.drainCommits(ctx) })
}

func (e *Engine) drainCommits(ctx context.Context) {
	defer e.scheduler.ReleaseCommitCoordination()
	for {
		if _, ok := e.scheduler.TryCommit(); !ok {
			return
		}
		// Only this coordinator pushes, so the entry just pushed is the one
		// popped; draining here keeps the bounded queue from filling up.
		result, _ := e.scheduler.CommitQueue().TryPop()
		e.commits.Inc(1)
		e.materialise(result)
		e.commitFeed.Send(result)
	}
}

// materialise promotes a committed transaction's staged writes into the
// store's committed baseline.
func (e *Engine) materialise(result blockstm.CommitResult) {
	e.writeMu.Lock()
	ws, ok := e.writeSets[result.Index]
	e.writeMu.Unlock()
	if !ok {
		return
	}
	for k := range ws.keys {
		e.store.CommitPlain(result.Index, k)
	}
	for id := range ws.aggs {
		e.store.CommitAggregatorV2(result.Index, id)
	}
}

func (e *Engine) runExecution(ctx context.Context, idx blockstm.TxnIndex, incarnation blockstm.Incarnation) {
	view := e.store.View(idx)
	aggData := aggregator.NewAggregatorData(view)

	result, err := e.tasks[idx].Execute(ctx, view, aggData, uint32(incarnation))
	e.execs.Inc(1)
	if err != nil {
		e.handleTaskError(ctx, idx, incarnation, err)
		return
	}

	for _, key := range aggData.DestroyedV1Keys() {
		e.store.MarkDestroyedV1(idx, key)
	}

	ws := newWriteSet(result)
	e.writeMu.Lock()
	prev, hadPrev := e.writeSets[idx]
	e.writeSets[idx] = ws
	e.writeMu.Unlock()
	revalidateSuffix := !hadPrev || prev.differsFrom(ws)

	follow := e.scheduler.FinishExecution(idx, incarnation, revalidateSuffix)
	e.dispatch(ctx, follow)
}

func (e *Engine) runValidation(ctx context.Context, idx blockstm.TxnIndex, incarnation blockstm.Incarnation, wave blockstm.Wave) {
	view := e.store.View(idx)
	success := e.tasks[idx].Validate(ctx, view, uint32(incarnation))
	e.validations.Inc(1)
	e.scheduler.FinishValidation(idx, wave, success)
	if success {
		return
	}
	e.validationFails.Inc(1)
	e.abort(ctx, idx, incarnation)
}

func (e *Engine) abort(ctx context.Context, idx blockstm.TxnIndex, incarnation blockstm.Incarnation) {
	if !e.scheduler.TryAbort(idx, incarnation) {
		return
	}
	e.aborts.Inc(1)
	follow := e.scheduler.FinishAbort(idx, incarnation)
	e.dispatch(ctx, follow)
}

// speculative is the marker interface both aggregator.SpeculativeError and
// mvstore's speculative error implement (spec.md §7.1).
type speculative interface {
	Speculative() bool
}

// handleTaskError handles every Task.Execute error. A speculative error is
// passed to abort. Any other error is a code-invariant violation (spec.md
// §7.2): it logs the violation and panics with a *blockstm.PanicError, which
// runGuarded recovers at the pool boundary.
func (e *Engine) handleTaskError(ctx context.Context, idx blockstm.TxnIndex, incarnation blockstm.Incarnation, err error) {
	if se, ok := err.(speculative); ok && se.Speculative() {
		e.abort(ctx, idx, incarnation)
		return
	}

	pe := blockstm.NewPanicError(err)
	e.logger.Error("code-invariant violation during execution, halting block", "txn", idx, "incarnation", incarnation, "err", pe)
	panic(pe)
}
