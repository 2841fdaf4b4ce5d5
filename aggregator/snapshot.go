package aggregator

import "github.com/holiman/uint256"

// snapshotKind tags the four AggregatorSnapshot variants of spec.md §3.6.
type snapshotKind int

const (
	snapshotCreate snapshotKind = iota
	snapshotDelta
	snapshotDerived
	snapshotReference
)

// AggregatorSnapshot is an immutable capture of an aggregator's value (or a
// string derived from one) at the point of capture. Once created, repeated
// reads return the same value regardless of later mutation of the base
// aggregator in the same transaction (spec.md P9).
type AggregatorSnapshot struct {
	kind snapshotKind

	// snapshotCreate
	value *uint256.Int

	// snapshotDelta
	baseAggregator AggregatorID
	delta          SignedU128

	// snapshotDerived
	baseSnapshot AggregatorID
	prefix       string
	suffix       string

	// snapshotReference: filled in lazily, exactly once, the first time it
	// is read (a Reference snapshot has no value until then).
	resolved    bool
	resolveErr  error
	speculative SnapshotValue
}
