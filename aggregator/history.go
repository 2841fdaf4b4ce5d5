package aggregator

import "github.com/holiman/uint256"

// DeltaHistory records the worst-case deltas witnessed against a single
// aggregator inside one transaction, relative to whatever base value the
// transaction eventually turns out to have started from. It lets the
// committer ask "would this transaction's try_add/try_sub calls have
// produced the same results against a different base?" without re-running
// them.
type DeltaHistory struct {
	maxAchievedPositive *uint256.Int
	minAchievedNegative *uint256.Int
	minOverflowPositive *uint256.Int // nil = never overflowed
	maxUnderflowNegative *uint256.Int // nil = never underflowed
}

// NewDeltaHistory returns an empty history: no delta has been attempted yet.
func NewDeltaHistory() *DeltaHistory {
	return &DeltaHistory{
		maxAchievedPositive: uint256.NewInt(0),
		minAchievedNegative: uint256.NewInt(0),
	}
}

// IsEmpty reports whether no successful or failed delta has been recorded.
// Used by read_last_committed_aggregator_value's invariant check.
func (h *DeltaHistory) IsEmpty() bool {
	return h.maxAchievedPositive.IsZero() && h.minAchievedNegative.IsZero() &&
		h.minOverflowPositive == nil && h.maxUnderflowNegative == nil
}

// RecordSuccessfulAdd updates the positive-delta high-water mark.
func (h *DeltaHistory) RecordSuccessfulAdd(delta *uint256.Int) {
	if delta.Gt(h.maxAchievedPositive) {
		h.maxAchievedPositive = new(uint256.Int).Set(delta)
	}
}

// RecordSuccessfulSub updates the negative-delta high-water mark (magnitude).
func (h *DeltaHistory) RecordSuccessfulSub(delta *uint256.Int) {
	if delta.Gt(h.minAchievedNegative) {
		h.minAchievedNegative = new(uint256.Int).Set(delta)
	}
}

// RecordOverflow records the smallest positive delta that ever overflowed.
func (h *DeltaHistory) RecordOverflow(delta *uint256.Int) {
	if h.minOverflowPositive == nil || delta.Lt(h.minOverflowPositive) {
		h.minOverflowPositive = new(uint256.Int).Set(delta)
	}
}

// RecordUnderflow records the largest-magnitude negative delta that ever
// underflowed.
func (h *DeltaHistory) RecordUnderflow(delta *uint256.Int) {
	if h.maxUnderflowNegative == nil || delta.Gt(h.maxUnderflowNegative) {
		h.maxUnderflowNegative = new(uint256.Int).Set(delta)
	}
}

// ValidateAgainstBase checks whether every witness recorded in h is still
// consistent with a candidate base value B, per spec.md §3.5's history
// invariant:
//
//	for every success witness d,          0 <= B+d <= max_value
//	for every overflow witness d+,        B+d+ > max_value
//	for every underflow witness d- (mag), B-d- < 0
func (h *DeltaHistory) ValidateAgainstBase(base *uint256.Int, bm *BoundedMath) bool {
	if _, ok := bm.UnsignedAdd(base, h.maxAchievedPositive); !ok {
		return false
	}
	if _, ok := bm.UnsignedSub(base, h.minAchievedNegative); !ok {
		return false
	}
	if h.minOverflowPositive != nil {
		if _, ok := bm.UnsignedAdd(base, h.minOverflowPositive); ok {
			return false
		}
	}
	if h.maxUnderflowNegative != nil {
		if _, ok := bm.UnsignedSub(base, h.maxUnderflowNegative); ok {
			return false
		}
	}
	return true
}
