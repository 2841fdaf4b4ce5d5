// Package aggregator implements per-transaction bookkeeping of aggregator
// values as either known values or bounded deltas with overflow/underflow
// witnesses, plus aggregator snapshots and derived string-concat values.
package aggregator

import "github.com/holiman/uint256"

// BoundedMath performs checked arithmetic on values bounded to [0, MaxValue].
// It never saturates: every operation either succeeds within bounds or
// reports failure, matching the source aggregator's bounded_math contract.
type BoundedMath struct {
	MaxValue *uint256.Int
}

// NewBoundedMath returns a BoundedMath bounded by maxValue.
func NewBoundedMath(maxValue *uint256.Int) *BoundedMath {
	return &BoundedMath{MaxValue: new(uint256.Int).Set(maxValue)}
}

// UnsignedAdd returns a+b and whether the result stayed within [0, MaxValue].
func (bm *BoundedMath) UnsignedAdd(a, b *uint256.Int) (*uint256.Int, bool) {
	sum := new(uint256.Int).Add(a, b)
	if sum.Gt(bm.MaxValue) {
		return nil, false
	}
	return sum, true
}

// UnsignedSub returns a-b and whether the result stayed within [0, MaxValue].
// Underflow (b > a) is reported as failure, not a wrapped value.
func (bm *BoundedMath) UnsignedSub(a, b *uint256.Int) (*uint256.Int, bool) {
	if b.Gt(a) {
		return nil, false
	}
	return new(uint256.Int).Sub(a, b), true
}

// SignedU128 is a signed delta magnitude, represented as a u128 magnitude
// plus a sign bit rather than a two's-complement width, mirroring the
// source's SignedU128 (u128 magnitudes never silently wrap at zero).
type SignedU128 struct {
	negative bool
	value    *uint256.Int
}

// PositiveDelta constructs a non-negative signed delta.
func PositiveDelta(v *uint256.Int) SignedU128 {
	return SignedU128{negative: false, value: new(uint256.Int).Set(v)}
}

// NegativeDelta constructs a delta representing -v.
func NegativeDelta(v *uint256.Int) SignedU128 {
	return SignedU128{negative: true, value: new(uint256.Int).Set(v)}
}

// ZeroDelta is the additive identity.
func ZeroDelta() SignedU128 {
	return PositiveDelta(uint256.NewInt(0))
}

// IsNegative reports whether the delta is strictly negative.
func (s SignedU128) IsNegative() bool {
	return s.negative && !s.value.IsZero()
}

// Magnitude returns |s|.
func (s SignedU128) Magnitude() *uint256.Int {
	return new(uint256.Int).Set(s.value)
}

// Add combines two signed deltas, canonicalising the sign of a zero result.
func (s SignedU128) Add(other SignedU128) SignedU128 {
	switch {
	case s.negative == other.negative:
		return SignedU128{negative: s.negative, value: new(uint256.Int).Add(s.value, other.value)}
	case s.value.Gt(other.value) || s.value.Eq(other.value):
		mag := new(uint256.Int).Sub(s.value, other.value)
		return SignedU128{negative: s.negative && !mag.IsZero(), value: mag}
	default:
		mag := new(uint256.Int).Sub(other.value, s.value)
		return SignedU128{negative: other.negative && !mag.IsZero(), value: mag}
	}
}

// AddToBase computes base+s bounded to [0, MaxValue], reporting success.
// This is the arithmetic spec.md §4.2.2/§4.2.3 calls "cur = start + delta".
func (bm *BoundedMath) AddToBase(base *uint256.Int, s SignedU128) (*uint256.Int, bool) {
	if s.IsNegative() {
		return bm.UnsignedSub(base, s.value)
	}
	return bm.UnsignedAdd(base, s.value)
}
