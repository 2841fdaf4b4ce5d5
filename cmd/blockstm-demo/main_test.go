package main

import (
	"context"
	"testing"
	"time"

	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/blockstm-labs/blockstm/executor"
	"github.com/blockstm-labs/blockstm/mvstore"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCounterTaskOverflowScenario is scenario S2 (spec.md §8): a block of
// [try_add(400), try_add(575)] against storage A=0, max_value=600. The
// second transaction's add must overflow and leave the counter unchanged
// at 400, regardless of how the parallel engine interleaved execution.
func TestCounterTaskOverflowScenario(t *testing.T) {
	maxValue := uint256.NewInt(600)
	tasks := []executor.Task{
		&counterTask{op: "add", amount: uint256.NewInt(400), maxValue: maxValue},
		&counterTask{op: "add", amount: uint256.NewInt(575), maxValue: maxValue},
	}

	store := mvstore.NewStore()
	cfg := executor.DefaultConfig()
	cfg.Workers = 2
	eng := executor.NewEngine(cfg, store, tasks)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Run(ctx))

	final, err := store.ReadAggregatorV2(demoAggregatorID, blockstm.TxnIndex(len(tasks)), aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(400), final, "the overflowing add must leave the counter at the pre-overflow value")
}
