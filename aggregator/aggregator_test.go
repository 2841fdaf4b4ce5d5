package aggregator

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constResolve(v uint64) Resolve {
	return func(mode ReadMode) (*uint256.Int, error) {
		return uint256.NewInt(v), nil
	}
}

func TestAggregatorCreateState(t *testing.T) {
	a := newCreateAggregator(1, uint256.NewInt(600), uint256.NewInt(0))
	require.True(t, a.IsCreate())

	ok, err := a.TryAdd(uint256.NewInt(600), constResolve(0))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(600), a.CreateValue())

	ok, err = a.TryAdd(uint256.NewInt(1), constResolve(0))
	require.NoError(t, err)
	assert.False(t, ok, "create-state add exceeding max_value must fail")

	v, err := a.ReadAggregated(AfterCurrentTxn, constResolve(0))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(600), v)

	_, err = a.ReadAggregated(BeforeCurrentTxn, constResolve(0))
	assert.ErrorIs(t, err, ErrInvariant, "Create aggregators have no 'before' value")
}

// TestAggregatorTryAddOverflowRecordsWitness is scenario S2: a transaction
// in Delta state, storage value 100, max_value 600, attempts try_add(575)
// and must fail with the overflow witness recorded rather than an error.
func TestAggregatorTryAddOverflowRecordsWitness(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(600))

	ok, err := a.TryAdd(uint256.NewInt(575), constResolve(100))
	require.NoError(t, err)
	assert.False(t, ok, "100+575=675 > 600 must fail")
	assert.False(t, a.history.IsEmpty())

	// The witness (575) still overflows at the same base (100+575=675 > 600),
	// so re-validating against that base must succeed.
	assert.True(t, a.history.ValidateAgainstBase(uint256.NewInt(100), a.boundedMath()))
}

// TestAggregatorTryAddOverflowAfterPriorSuccessRecordsCombinedWitness guards
// against recording the bare per-call input as the overflow witness instead
// of the total prospective delta: max_value 100, try_add(80) succeeds
// (delta=80), then try_add(30) overflows (80+30=110 > 100). The witness
// must be 110, the combined candidate delta, not the bare 30: validating the
// resulting history against the true base 0 must accept it (0+110=110>100,
// so it genuinely still overflows there). Recording the bare input (30)
// instead would make 0+30=30<=100 look like it no longer overflows,
// rejecting the very base the transaction actually ran against.
func TestAggregatorTryAddOverflowAfterPriorSuccessRecordsCombinedWitness(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(100))

	ok, err := a.TryAdd(uint256.NewInt(80), constResolve(0))
	require.NoError(t, err)
	require.True(t, ok, "0+80=80 <= 100 must succeed")

	ok, err = a.TryAdd(uint256.NewInt(30), constResolve(0))
	require.NoError(t, err)
	require.False(t, ok, "80+30=110 > 100 must overflow")

	assert.True(t, a.history.ValidateAgainstBase(uint256.NewInt(0), a.boundedMath()),
		"the true base (0) must still validate once the witness is the combined delta 110")
}

func TestAggregatorTryAddSuccessThenReadAggregated(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(600))

	ok, err := a.TryAdd(uint256.NewInt(400), constResolve(100))
	require.NoError(t, err)
	assert.True(t, ok, "100+400=500 <= 600 must succeed")

	v, err := a.ReadAggregated(AfterCurrentTxn, constResolve(100))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(500), v)

	before, err := a.ReadAggregated(BeforeCurrentTxn, constResolve(100))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), before)
}

func TestAggregatorTrySubUnderflow(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(600))

	ok, err := a.TrySub(uint256.NewInt(150), constResolve(100))
	require.NoError(t, err)
	assert.False(t, ok, "100-150 underflows below zero")
}

func TestAggregatorInputExceedingMaxValueNeverRecordsHistory(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(600))

	ok, err := a.TryAdd(uint256.NewInt(601), constResolve(100))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, a.history.IsEmpty(), "an input > max_value alone is never a history witness")
}

func TestAggregatorReadAggregatedHistoryMismatchIsSpeculative(t *testing.T) {
	a := newDeltaAggregator(1, uint256.NewInt(600))

	ok, err := a.TryAdd(uint256.NewInt(400), constResolve(100))
	require.NoError(t, err)
	require.True(t, ok)

	// A later Aggregated read observes a different base (201) that would
	// have pushed 400 over max_value: the history must fail to validate.
	_, err = a.ReadAggregated(AfterCurrentTxn, constResolve(201))
	require.Error(t, err)
	var se SpeculativeError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Speculative())
}
