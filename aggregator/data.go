package aggregator

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
)

// AggregatorData is the per-transaction registry of aggregators, snapshots,
// and derived snapshots (spec.md §4.2.1). Every operation is sequential
// within a single transaction; cross-transaction concurrency belongs to the
// scheduler/MVHashMap layer, not here.
type AggregatorData struct {
	resolver Resolver

	newAggregators       mapset.Set[AggregatorID]
	destroyedAggregators mapset.Set[common.Hash]

	aggregators map[AggregatorID]*Aggregator
	resolves    map[AggregatorID]Resolve
	v1Keys      map[AggregatorID]common.Hash

	snapshots map[AggregatorID]*AggregatorSnapshot
}

// NewAggregatorData constructs an empty registry bound to resolver for the
// duration of one transaction's execution.
func NewAggregatorData(resolver Resolver) *AggregatorData {
	return &AggregatorData{
		resolver:             resolver,
		newAggregators:       mapset.NewThreadUnsafeSet[AggregatorID](),
		destroyedAggregators: mapset.NewThreadUnsafeSet[common.Hash](),
		aggregators:          make(map[AggregatorID]*Aggregator),
		resolves:             make(map[AggregatorID]Resolve),
		v1Keys:               make(map[AggregatorID]common.Hash),
		snapshots:             make(map[AggregatorID]*AggregatorSnapshot),
	}
}

// v1ID maps a storage key deterministically onto an AggregatorID for use as
// the internal map key; only unique within this transaction's registry, not
// across the block.
func v1ID(key common.Hash) AggregatorID {
	return AggregatorID(binary.BigEndian.Uint64(key[:8]))
}

// GetAggregator fetches or constructs the aggregator at id, binding it to
// resolve for any later speculative read it needs to perform. Fails if
// maxValue disagrees with an already-registered instance (spec.md §4.2.1).
func (d *AggregatorData) GetAggregator(id AggregatorID, maxValue *uint256.Int, resolve Resolve) (*Aggregator, error) {
	if existing, ok := d.aggregators[id]; ok {
		if existing.maxValue.Cmp(maxValue) != 0 {
			return nil, fmt.Errorf("%w: id %d", ErrMaxValueMismatch, id)
		}
		return existing, nil
	}
	agg := newDeltaAggregator(id, maxValue)
	d.aggregators[id] = agg
	d.resolves[id] = resolve
	return agg, nil
}

// GetAggregatorV1 is GetAggregator specialised for a v1 storage-key
// aggregator, building the Resolve closure that routes through
// Resolver.AggregatorV1Value.
func (d *AggregatorData) GetAggregatorV1(key common.Hash, maxValue *uint256.Int) (*Aggregator, error) {
	id := v1ID(key)
	d.v1Keys[id] = key
	return d.GetAggregator(id, maxValue, func(mode ReadMode) (*uint256.Int, error) {
		return d.resolver.AggregatorV1Value(key, mode)
	})
}

// GetAggregatorV2 is GetAggregator specialised for a v2 aggregator id,
// building the Resolve closure that routes through
// Resolver.AggregatorV2Value.
func (d *AggregatorData) GetAggregatorV2(id AggregatorID, maxValue *uint256.Int) (*Aggregator, error) {
	return d.GetAggregator(id, maxValue, func(mode ReadMode) (*uint256.Int, error) {
		return d.resolver.AggregatorV2Value(id, mode)
	})
}

// CreateNewAggregator inserts a freshly-created aggregator with exact value
// 0 and records its id in new_aggregators (spec.md §4.2.1).
func (d *AggregatorData) CreateNewAggregator(id AggregatorID, maxValue *uint256.Int) {
	d.aggregators[id] = newCreateAggregator(id, maxValue, uint256.NewInt(0))
	d.newAggregators.Add(id)
}

// RemoveAggregatorV1 removes the aggregator keyed by a v1 storage slot. If
// it was created in this transaction, the creation is simply undone;
// otherwise the key is recorded as destroyed so the executor can emit a
// deletion write.
func (d *AggregatorData) RemoveAggregatorV1(key common.Hash) {
	id := v1ID(key)
	delete(d.aggregators, id)
	delete(d.resolves, id)
	delete(d.v1Keys, id)
	if d.newAggregators.Contains(id) {
		d.newAggregators.Remove(id)
		return
	}
	d.destroyedAggregators.Add(key)
}

// NewAggregatorIDs returns the set of ids created in this transaction.
func (d *AggregatorData) NewAggregatorIDs() []AggregatorID {
	return d.newAggregators.ToSlice()
}

// DestroyedV1Keys returns the set of v1 storage keys destroyed in this
// transaction.
func (d *AggregatorData) DestroyedV1Keys() []common.Hash {
	return d.destroyedAggregators.ToSlice()
}

// Snapshot captures the aggregator at id, returning a fresh snapshot id
// minted by the resolver (spec.md §4.2.1's `snapshot` operation).
func (d *AggregatorData) Snapshot(id AggregatorID) (AggregatorID, error) {
	agg, ok := d.aggregators[id]
	if !ok {
		return 0, fmt.Errorf("%w: snapshot of unknown aggregator %d", ErrInvariant, id)
	}
	snapID := d.resolver.GenerateAggregatorID()
	if agg.IsCreate() {
		d.snapshots[snapID] = &AggregatorSnapshot{kind: snapshotCreate, value: agg.CreateValue()}
		return snapID, nil
	}
	d.snapshots[snapID] = &AggregatorSnapshot{
		kind:           snapshotDelta,
		baseAggregator: id,
		delta:          agg.Delta(),
	}
	return snapID, nil
}

// CreateNewSnapshot creates a literal snapshot carrying value directly.
func (d *AggregatorData) CreateNewSnapshot(value *uint256.Int) AggregatorID {
	snapID := d.resolver.GenerateAggregatorID()
	d.snapshots[snapID] = &AggregatorSnapshot{kind: snapshotCreate, value: new(uint256.Int).Set(value)}
	return snapID
}

// StringConcat creates a Derived snapshot: reading it stringifies baseID's
// integer value, wrapped between prefix and suffix.
func (d *AggregatorData) StringConcat(baseID AggregatorID, prefix, suffix string) AggregatorID {
	snapID := d.resolver.GenerateAggregatorID()
	d.snapshots[snapID] = &AggregatorSnapshot{
		kind:         snapshotDerived,
		baseSnapshot: baseID,
		prefix:       prefix,
		suffix:       suffix,
	}
	return snapID
}

// ReadSnapshot resolves a snapshot id transitively (spec.md §4.2.1/§4.3).
func (d *AggregatorData) ReadSnapshot(id AggregatorID) (SnapshotValue, error) {
	snap, ok := d.snapshots[id]
	if !ok {
		return d.readReferenceSnapshot(id)
	}
	return d.resolveSnapshot(snap)
}

// readReferenceSnapshot handles an id never seen before in this
// transaction's snapshot map: per spec.md §3.6 it is a Reference, resolved
// once via an aggregated read from the resolver and then cached so repeated
// reads stay immutable (P9). A resolver miss means the id was never
// created at all or its snapshot was deleted, which SPEC_FULL.md's Open
// Question 1 leaves unsupported: surfaced as ErrUnknownSnapshot.
func (d *AggregatorData) readReferenceSnapshot(id AggregatorID) (SnapshotValue, error) {
	v, err := d.resolver.AggregatorV2Value(id, Aggregated)
	if err != nil {
		wrapped := fmt.Errorf("%w: %d: %v", ErrUnknownSnapshot, id, err)
		d.snapshots[id] = &AggregatorSnapshot{kind: snapshotReference, resolved: true, resolveErr: wrapped}
		return SnapshotValue{}, wrapped
	}
	val := IntegerSnapshotValue(v)
	d.snapshots[id] = &AggregatorSnapshot{kind: snapshotReference, resolved: true, speculative: val}
	return val, nil
}

func (d *AggregatorData) resolveSnapshot(snap *AggregatorSnapshot) (SnapshotValue, error) {
	switch snap.kind {
	case snapshotCreate:
		return IntegerSnapshotValue(snap.value), nil
	case snapshotDelta:
		// Must observe the base aggregator as of before the current
		// transaction started (spec.md §4.3): a semantic copy-on-capture.
		agg, ok := d.aggregators[snap.baseAggregator]
		if !ok {
			return SnapshotValue{}, fmt.Errorf("%w: snapshot base aggregator %d missing", ErrInvariant, snap.baseAggregator)
		}
		resolve, ok := d.resolves[snap.baseAggregator]
		if !ok {
			return SnapshotValue{}, fmt.Errorf("%w: snapshot base aggregator %d has no resolver", ErrInvariant, snap.baseAggregator)
		}
		base, err := agg.ReadAggregated(BeforeCurrentTxn, resolve)
		if err != nil {
			return SnapshotValue{}, err
		}
		sum, ok := agg.boundedMath().AddToBase(base, snap.delta)
		if !ok {
			return SnapshotValue{}, fmt.Errorf("%w: snapshot delta out of bounds", ErrInvariant)
		}
		return IntegerSnapshotValue(sum), nil
	case snapshotDerived:
		base, err := d.ReadSnapshot(snap.baseSnapshot)
		if err != nil {
			return SnapshotValue{}, err
		}
		intVal, ok := base.Integer()
		if !ok {
			return SnapshotValue{}, fmt.Errorf("%w: string_concat base must resolve to an integer", ErrInvariant)
		}
		return StringSnapshotValue(snap.prefix + intVal.Dec() + snap.suffix), nil
	case snapshotReference:
		if !snap.resolved {
			return SnapshotValue{}, fmt.Errorf("%w: unresolved reference snapshot", ErrInvariant)
		}
		return snap.speculative, snap.resolveErr
	default:
		return SnapshotValue{}, fmt.Errorf("%w: unknown snapshot kind", ErrInvariant)
	}
}
