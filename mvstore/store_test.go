package mvstore

import (
	"testing"

	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReadPlainDefaultsToZero(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x01")

	v, err := s.ReadPlain(key, 0, aggregator.LastCommitted)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestStoreStageThenReadAggregatedSeesMostRecentPriorWrite(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x01")

	s.StagePlain(0, key, uint256.NewInt(10))
	s.StagePlain(1, key, uint256.NewInt(20))

	v, err := s.ReadPlain(key, 2, aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(20), v, "reader at idx 2 sees txn 1's write, the most recent before it")

	v, err = s.ReadPlain(key, 1, aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), v, "reader at idx 1 must not see txn 1's own still-speculative write")
}

func TestStoreReadPlainLastCommittedIgnoresStagedWrites(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x01")

	s.StagePlain(0, key, uint256.NewInt(10))
	v, err := s.ReadPlain(key, 5, aggregator.LastCommitted)
	require.NoError(t, err)
	assert.True(t, v.IsZero(), "LastCommitted must ignore staged writes until CommitPlain")

	s.CommitPlain(0, key)
	v, err = s.ReadPlain(key, 5, aggregator.LastCommitted)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), v)
}

func TestStoreMarkDestroyedV1FailsLaterReaders(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x01")

	s.MarkDestroyedV1(3, key)

	_, err := s.ReadPlain(key, 5, aggregator.Aggregated)
	require.Error(t, err)
	var se interface{ Speculative() bool }
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Speculative())

	// A reader indexed before the destruction is unaffected.
	v, err := s.ReadPlain(key, 2, aggregator.Aggregated)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestStoreAggregatorV2CommitPromotesStagedValue(t *testing.T) {
	s := NewStore()
	id := s.GenerateAggregatorID()

	s.StageAggregatorV2(0, id, uint256.NewInt(500))
	v, err := s.ReadAggregatorV2(id, 0, aggregator.LastCommitted)
	require.NoError(t, err)
	assert.True(t, v.IsZero(), "not yet committed")

	s.CommitAggregatorV2(0, id)
	v, err = s.ReadAggregatorV2(id, 1, aggregator.LastCommitted)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(500), v)
}

func TestStoreAggregatedCacheInvalidatedByLaterStage(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x02")
	s.StagePlain(0, key, uint256.NewInt(1))

	v, err := s.ReadPlain(key, 5, aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1), v)

	// Restaging txn 0's write must invalidate the cached Aggregated read.
	s.StagePlain(0, key, uint256.NewInt(2))
	v, err = s.ReadPlain(key, 5, aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2), v, "stale cached value must not be returned after a restage")
}

func TestStoreViewSatisfiesResolver(t *testing.T) {
	s := NewStore()
	view := s.View(blockstm.TxnIndex(0))
	var _ aggregator.Resolver = view
	id := view.GenerateAggregatorID()
	assert.NotZero(t, id)
}
