// Package executor drives the scheduler and aggregator packages against a
// concrete per-transaction Task, materialising committed output and
// publishing it downstream. It is the "Exposed — driver" and "Consumed —
// worker executor" surfaces of spec.md §6, concretised for a runnable
// system (SPEC_FULL.md §4.4).
package executor

import (
	"context"

	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/blockstm-labs/blockstm/mvstore"
	"github.com/ethereum/go-ethereum/common"
)

// ExecutionResult is what a Task reports after Execute: every key and
// aggregator it wrote this incarnation, used to decide whether suffix
// transactions need revalidation (spec.md §6's revalidate_suffix).
type ExecutionResult struct {
	WrittenKeys        []common.Hash
	WrittenAggregators []aggregator.AggregatorID
}

// Task is the pluggable per-transaction unit of work the caller supplies,
// analogous to ExecTask in the bor BlockSTM port
// (_examples/other_examples/.../core-blockstm-executor.go.go) but shaped
// around this module's own Scheduler/AggregatorData instead of that port's
// channel-based one.
type Task interface {
	// Execute runs this transaction's logic for the given incarnation
	// against view, reading and writing through it so every write is
	// tagged with the transaction's index. aggData is a fresh
	// per-incarnation registry (spec.md §4.2.1: AggregatorData is
	// maintained per executing transaction, never shared across
	// incarnations or transactions).
	Execute(ctx context.Context, view *mvstore.View, aggData *aggregator.AggregatorData, incarnation uint32) (ExecutionResult, error)

	// Validate re-reads whatever Execute's last successful run depended
	// on and reports whether every read is still consistent with the
	// current multi-version state. A false result triggers an abort and
	// re-execution at the next incarnation.
	Validate(ctx context.Context, view *mvstore.View, incarnation uint32) bool
}
