package aggregator

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is a minimal in-memory Resolver stub for exercising
// AggregatorData without pulling in mvstore.
type fakeResolver struct {
	nextID    AggregatorID
	v1        map[common.Hash]uint64
	v2        map[AggregatorID]uint64
	v2Missing map[AggregatorID]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		v1:        make(map[common.Hash]uint64),
		v2:        make(map[AggregatorID]uint64),
		v2Missing: make(map[AggregatorID]bool),
	}
}

func (f *fakeResolver) GenerateAggregatorID() AggregatorID {
	f.nextID++
	return f.nextID
}

func (f *fakeResolver) AggregatorV1Value(key common.Hash, mode ReadMode) (*uint256.Int, error) {
	return uint256.NewInt(f.v1[key]), nil
}

func (f *fakeResolver) AggregatorV2Value(id AggregatorID, mode ReadMode) (*uint256.Int, error) {
	if f.v2Missing[id] {
		return nil, errors.New("fakeResolver: no such aggregator")
	}
	return uint256.NewInt(f.v2[id]), nil
}

func TestAggregatorDataGetAggregatorMaxValueMismatch(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	_, err := d.GetAggregatorV2(1, uint256.NewInt(600))
	require.NoError(t, err)

	_, err = d.GetAggregatorV2(1, uint256.NewInt(601))
	assert.ErrorIs(t, err, ErrMaxValueMismatch)
}

func TestAggregatorDataGetAggregatorV2Idempotent(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	a1, err := d.GetAggregatorV2(1, uint256.NewInt(600))
	require.NoError(t, err)
	a2, err := d.GetAggregatorV2(1, uint256.NewInt(600))
	require.NoError(t, err)
	assert.Same(t, a1, a2, "same id must return the same instance within a transaction")
}

func TestAggregatorDataCreateAndSnapshotIntegerImmutable(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	d.CreateNewAggregator(1, uint256.NewInt(600))
	assert.Contains(t, d.NewAggregatorIDs(), AggregatorID(1))

	snapID, err := d.Snapshot(1)
	require.NoError(t, err)

	agg := d.aggregators[1]
	ok, err := agg.TryAdd(uint256.NewInt(50), constResolve(0))
	require.NoError(t, err)
	require.True(t, ok)

	// P9: a snapshot taken before further mutation must not observe it.
	val, err := d.ReadSnapshot(snapID)
	require.NoError(t, err)
	v, isInt := val.Integer()
	require.True(t, isInt)
	assert.True(t, v.IsZero(), "snapshot captured before the try_add must still read 0")
}

func TestAggregatorDataSnapshotDeltaReadsBeforeCurrentTxn(t *testing.T) {
	r := newFakeResolver()
	r.v2[1] = 100
	d := NewAggregatorData(r)

	agg, err := d.GetAggregatorV2(1, uint256.NewInt(600))
	require.NoError(t, err)

	resolve := d.resolves[1]
	ok, err := agg.TryAdd(uint256.NewInt(400), resolve)
	require.NoError(t, err)
	require.True(t, ok)

	snapID, err := d.Snapshot(1)
	require.NoError(t, err)

	// The snapshot reads the base aggregator as of before this transaction
	// (100) and adds the delta captured at snapshot time (+400): 500.
	val, err := d.ReadSnapshot(snapID)
	require.NoError(t, err)
	v, isInt := val.Integer()
	require.True(t, isInt)
	assert.Equal(t, uint256.NewInt(500), v)
}

func TestAggregatorDataStringConcat(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	snapID := d.CreateNewSnapshot(uint256.NewInt(42))
	concatID := d.StringConcat(snapID, "id:", "!")

	val, err := d.ReadSnapshot(concatID)
	require.NoError(t, err)
	s, isStr := val.String()
	require.True(t, isStr)
	assert.Equal(t, "id:42!", s)
}

func TestAggregatorDataReadSnapshotReferenceResolvesFromStore(t *testing.T) {
	r := newFakeResolver()
	r.v2[999] = 7
	d := NewAggregatorData(r)

	// id 999 was never created locally: this is a Reference snapshot,
	// resolved via an aggregated read from the resolver.
	val, err := d.ReadSnapshot(999)
	require.NoError(t, err)
	v, ok := val.Integer()
	require.True(t, ok)
	assert.Equal(t, uint256.NewInt(7), v)
}

func TestAggregatorDataReadSnapshotUnknownReferenceErrors(t *testing.T) {
	r := newFakeResolver()
	r.v2Missing[999] = true
	d := NewAggregatorData(r)

	_, err := d.ReadSnapshot(999)
	assert.ErrorIs(t, err, ErrUnknownSnapshot)
}

func TestAggregatorDataRemoveAggregatorV1UndoesLocalCreate(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	key := common.HexToHash("0x01")
	_, err := d.GetAggregatorV1(key, uint256.NewInt(600))
	require.NoError(t, err)

	id := v1ID(key)
	d.newAggregators.Add(id)

	d.RemoveAggregatorV1(key)
	assert.Empty(t, d.DestroyedV1Keys(), "removing a locally created aggregator must not mark it destroyed")
}

func TestAggregatorDataRemoveAggregatorV1MarksDestroyed(t *testing.T) {
	r := newFakeResolver()
	d := NewAggregatorData(r)

	key := common.HexToHash("0x02")
	_, err := d.GetAggregatorV1(key, uint256.NewInt(600))
	require.NoError(t, err)

	d.RemoveAggregatorV1(key)
	assert.Contains(t, d.DestroyedV1Keys(), key)
}
