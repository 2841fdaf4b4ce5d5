// Package baseline is the sequential reference model P1 (spec.md §8) is
// checked against: run every transaction once, strictly in order, against
// the same storage the parallel engine started from, and compare committed
// outputs.
package baseline

import (
	"context"
	"fmt"

	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/blockstm-labs/blockstm/executor"
	"github.com/blockstm-labs/blockstm/mvstore"
)

// Result is one transaction's sequential execution outcome.
type Result struct {
	Index  blockstm.TxnIndex
	Output executor.ExecutionResult
}

// Run executes every task in tasks[0], tasks[1], ... order against store,
// committing each transaction's writes immediately before starting the
// next. It never aborts or retries: sequential execution has no
// speculative reads to invalidate.
func Run(ctx context.Context, store *mvstore.Store, tasks []executor.Task) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for i, task := range tasks {
		idx := blockstm.TxnIndex(i)
		view := store.View(idx)
		aggData := aggregator.NewAggregatorData(view)

		out, err := task.Execute(ctx, view, aggData, 0)
		if err != nil {
			return nil, fmt.Errorf("baseline: txn %d: %w", idx, err)
		}

		for _, key := range out.WrittenKeys {
			store.CommitPlain(idx, key)
		}
		for _, id := range out.WrittenAggregators {
			store.CommitAggregatorV2(idx, id)
		}
		for _, key := range aggData.DestroyedV1Keys() {
			store.MarkDestroyedV1(idx, key)
		}

		results = append(results, Result{Index: idx, Output: out})
	}
	return results, nil
}
