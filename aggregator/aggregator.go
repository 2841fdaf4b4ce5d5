package aggregator

import "github.com/holiman/uint256"

// Position selects which side of the current transaction a read should
// observe (spec.md §4.2.3/§4.3).
type Position int

const (
	// BeforeCurrentTxn observes the aggregator as it stood before this
	// transaction's own deltas were applied.
	BeforeCurrentTxn Position = iota
	// AfterCurrentTxn observes the aggregator including this transaction's
	// own deltas.
	AfterCurrentTxn
)

// startKind distinguishes the three SpeculativeStartValue variants of
// spec.md §3.5.
type startKind int

const (
	startUnset startKind = iota
	startLastCommitted
	startAggregated
)

// speculativeStart is the aggregator's current idea of its pre-transaction
// value, which may be absent, a cheap last-committed read, or an expensive
// fully-aggregated read.
type speculativeStart struct {
	kind  startKind
	value *uint256.Int
}

// state tags the two states an Aggregator instance can be in (spec.md §3.5).
type state int

const (
	stateCreate state = iota
	stateDelta
)

// Resolve is how an Aggregator reaches outside itself to the multi-version
// store, supplied by AggregatorData for whichever underlying key (v1 slot or
// v2 id) this instance was constructed against. Keeping Aggregator itself
// ignorant of v1-vs-v2 routing keeps its state machine a direct translation
// of the source's Aggregator impl block.
type Resolve func(mode ReadMode) (*uint256.Int, error)

// Aggregator is a single bounded u128 counter, tracked per-transaction as
// either an exactly-known value created in this transaction, or a bounded
// delta applied on top of a speculatively-read start value.
type Aggregator struct {
	id       AggregatorID
	maxValue *uint256.Int
	st       state

	// valid when st == stateCreate
	createValue *uint256.Int

	// valid when st == stateDelta
	start   speculativeStart
	delta   SignedU128
	history *DeltaHistory
}

func newDeltaAggregator(id AggregatorID, maxValue *uint256.Int) *Aggregator {
	return &Aggregator{
		id:       id,
		maxValue: new(uint256.Int).Set(maxValue),
		st:       stateDelta,
		start:    speculativeStart{kind: startUnset},
		delta:    ZeroDelta(),
		history:  NewDeltaHistory(),
	}
}

func newCreateAggregator(id AggregatorID, maxValue, value *uint256.Int) *Aggregator {
	return &Aggregator{
		id:          id,
		maxValue:    new(uint256.Int).Set(maxValue),
		st:          stateCreate,
		createValue: new(uint256.Int).Set(value),
	}
}

func (a *Aggregator) boundedMath() *BoundedMath {
	return NewBoundedMath(a.maxValue)
}

// TryAdd attempts to add input, recording witnesses in history on failure
// or success. Returns false (never an error) on bounded-math overflow, per
// spec.md §4.2.2 and the error taxonomy of §7.3.
func (a *Aggregator) TryAdd(input *uint256.Int, resolve Resolve) (bool, error) {
	if a.st == stateCreate {
		sum, ok := a.boundedMath().UnsignedAdd(a.createValue, input)
		if !ok {
			return false, nil
		}
		a.createValue = sum
		return true, nil
	}
	return a.tryDelta(input, true, resolve)
}

// TrySub is the symmetric operation to TryAdd.
func (a *Aggregator) TrySub(input *uint256.Int, resolve Resolve) (bool, error) {
	if a.st == stateCreate {
		diff, ok := a.boundedMath().UnsignedSub(a.createValue, input)
		if !ok {
			return false, nil
		}
		a.createValue = diff
		return true, nil
	}
	return a.tryDelta(input, false, resolve)
}

func (a *Aggregator) tryDelta(input *uint256.Int, positive bool, resolve Resolve) (bool, error) {
	bm := a.boundedMath()

	// An input exceeding max_value cannot possibly succeed regardless of
	// base, and is not recorded as history (spec.md §4.2.2 step 1).
	if input.Gt(a.maxValue) {
		return false, nil
	}

	if err := a.ensureLastCommitted(resolve); err != nil {
		return false, err
	}

	var candidate SignedU128
	if positive {
		candidate = PositiveDelta(input)
	} else {
		candidate = NegativeDelta(input)
	}
	newDelta := a.delta.Add(candidate)

	if _, withinBounds := bm.AddToBase(a.start.value, newDelta); !withinBounds {
		if positive {
			a.history.RecordOverflow(newDelta.Magnitude())
		} else {
			a.history.RecordUnderflow(newDelta.Magnitude())
		}
		return false, nil
	}

	a.delta = newDelta
	if !newDelta.IsNegative() {
		a.history.RecordSuccessfulAdd(newDelta.Magnitude())
	} else {
		a.history.RecordSuccessfulSub(newDelta.Magnitude())
	}
	return true, nil
}

// ensureLastCommitted transitions Unset -> LastCommittedValue(v), per
// read_last_committed_aggregator_value (spec.md §4.2.3). Called internally
// by try_add/try_sub; never surfaced directly to callers, because
// LastCommittedValue must never participate in the read-dependency graph
// (spec.md §9 "History vs. read-dependency").
func (a *Aggregator) ensureLastCommitted(resolve Resolve) error {
	if a.start.kind != startUnset {
		return nil
	}
	if !a.delta.Magnitude().IsZero() || !a.history.IsEmpty() {
		// Code-invariant violation: history was recorded relative to an
		// unset base, which must never happen (spec.md §4.2.3).
		return ErrInvariant
	}
	v, err := resolve(LastCommitted)
	if err != nil {
		return err
	}
	a.start = speculativeStart{kind: startLastCommitted, value: v}
	return nil
}

// ReadAggregated implements read_aggregated_aggregator_value (spec.md
// §4.2.3/§4.3).
func (a *Aggregator) ReadAggregated(pos Position, resolve Resolve) (*uint256.Int, error) {
	if a.st == stateCreate {
		if pos == BeforeCurrentTxn {
			return nil, ErrInvariant
		}
		return new(uint256.Int).Set(a.createValue), nil
	}

	if a.start.kind == startAggregated {
		if pos == AfterCurrentTxn {
			sum, ok := a.boundedMath().AddToBase(a.start.value, a.delta)
			if !ok {
				return nil, ErrInvariant
			}
			return sum, nil
		}
		return new(uint256.Int).Set(a.start.value), nil
	}

	v, err := resolve(Aggregated)
	if err != nil {
		return nil, err
	}
	if !a.history.ValidateAgainstBase(v, a.boundedMath()) {
		return nil, newHistoryValidationError(a.id)
	}
	a.start = speculativeStart{kind: startAggregated, value: v}
	if pos == AfterCurrentTxn {
		sum, ok := a.boundedMath().AddToBase(a.start.value, a.delta)
		if !ok {
			return nil, ErrInvariant
		}
		return sum, nil
	}
	return new(uint256.Int).Set(v), nil
}

// ID returns the aggregator's identifier.
func (a *Aggregator) ID() AggregatorID { return a.id }

// MaxValue returns the bound this aggregator enforces.
func (a *Aggregator) MaxValue() *uint256.Int { return new(uint256.Int).Set(a.maxValue) }

// IsCreate reports whether this instance is in the Create state.
func (a *Aggregator) IsCreate() bool { return a.st == stateCreate }

// CreateValue returns the exact value of a Create-state aggregator. Callers
// must check IsCreate first; it panics on a Delta-state instance.
func (a *Aggregator) CreateValue() *uint256.Int {
	if a.st != stateCreate {
		panic("aggregator: CreateValue called on a Delta-state aggregator")
	}
	return new(uint256.Int).Set(a.createValue)
}

// Delta returns the current accumulated delta of a Delta-state aggregator.
func (a *Aggregator) Delta() SignedU128 { return a.delta }
