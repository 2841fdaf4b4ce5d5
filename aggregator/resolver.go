package aggregator

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AggregatorID identifies an aggregator v2 instance or snapshot, minted by
// the resolver and unique within one block (spec.md §3.5/§6).
type AggregatorID uint64

// ReadMode selects one of the two read semantics the external multi-version
// store must provide for every key (spec.md §6).
type ReadMode int

const (
	// LastCommitted returns the value last confirmed committed before the
	// current transaction began. Cheap; not a read dependency.
	LastCommitted ReadMode = iota
	// Aggregated returns the fully materialised value, applying every
	// delta from prior transactions in order. Expensive.
	Aggregated
)

// Resolver is the consumed external interface (spec.md §6): multi-version
// storage, narrowed to exactly the operations the aggregator subsystem
// needs. Production storage is out of scope; mvstore.Store is the reference
// implementation exercised by this module's own tests.
type Resolver interface {
	// GenerateAggregatorID mints a fresh id, unique within the block.
	GenerateAggregatorID() AggregatorID
	// AggregatorV1Value reads a v1 aggregator keyed by storage slot.
	AggregatorV1Value(key common.Hash, mode ReadMode) (*uint256.Int, error)
	// AggregatorV2Value reads an aggregator v2 instance by id.
	AggregatorV2Value(id AggregatorID, mode ReadMode) (*uint256.Int, error)
}

// SnapshotValue is the result of resolving a snapshot: either the integer
// value of an aggregator-derived snapshot, or the stringified value of a
// Derived (string_concat) snapshot (spec.md §3.6/§4.2.1).
type SnapshotValue struct {
	isString bool
	integer  *uint256.Int
	str      string
}

// IntegerSnapshotValue wraps an aggregator-derived integer result.
func IntegerSnapshotValue(v *uint256.Int) SnapshotValue {
	return SnapshotValue{integer: new(uint256.Int).Set(v)}
}

// StringSnapshotValue wraps a string_concat-derived result.
func StringSnapshotValue(s string) SnapshotValue {
	return SnapshotValue{isString: true, str: s}
}

// IsString reports whether this value came from a Derived/Concat snapshot.
func (v SnapshotValue) IsString() bool { return v.isString }

// Integer returns the integer value and true, or (nil, false) if this is a
// string value.
func (v SnapshotValue) Integer() (*uint256.Int, bool) {
	if v.isString {
		return nil, false
	}
	return new(uint256.Int).Set(v.integer), true
}

// String returns the string value and true, or ("", false) if this is an
// integer value.
func (v SnapshotValue) String() (string, bool) {
	if !v.isString {
		return "", false
	}
	return v.str, true
}
