// Package mvstore provides the external multi-version storage contract
// consumed by the scheduler and aggregator packages (spec.md §6), plus one
// deliberately simple in-memory reference implementation. Production
// multi-version storage remains out of scope (spec.md §1 Non-goals); Store
// exists so the rest of this module is exercised end-to-end by tests and
// the CLI demo.
package mvstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
)

const aggregatedCacheSize = 4096

// versioned is one key's committed baseline plus every speculative write
// still pending, indexed by the writer's transaction index. A later
// incarnation of the same TxnIndex simply overwrites its entry.
type versioned struct {
	committed *uint256.Int
	writes    map[blockstm.TxnIndex]*uint256.Int
}

func newVersioned() *versioned {
	return &versioned{committed: uint256.NewInt(0), writes: make(map[blockstm.TxnIndex]*uint256.Int)}
}

// mostRecentBefore returns the write with the highest TxnIndex strictly
// less than before, or the committed baseline if there is none. This is
// the "apply all deltas from prior txns in order" read mode of spec.md §6,
// specialised to whole-value overwrites rather than numeric deltas (the
// only place this module composes numeric deltas is inside a single
// transaction's own Aggregator, per spec.md §4.2).
func (v *versioned) mostRecentBefore(before blockstm.TxnIndex) *uint256.Int {
	best := v.committed
	bestIdx := blockstm.TxnIndex(0)
	found := false
	for idx, val := range v.writes {
		if idx < before && (!found || idx > bestIdx) {
			best, bestIdx, found = val, idx, true
		}
	}
	return best
}

// Store is the reference in-memory multi-version store: a map of
// TxnIndex -> value writes per key plus one committed baseline value.
type Store struct {
	mu sync.RWMutex

	plain map[common.Hash]*versioned
	aggV2 map[aggregator.AggregatorID]*versioned

	destroyedV1 map[common.Hash]blockstm.TxnIndex

	cache *lru.Cache

	idCounter atomic.Uint64
	runID     uuid.UUID
	log       log.Logger
}

// NewStore returns an empty store with its own aggregator-id namespace.
func NewStore() *Store {
	cache, err := lru.New(aggregatedCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size, which is a
		// programmer error in this constant, not a runtime condition.
		panic(fmt.Sprintf("mvstore: %v", err))
	}
	id := uuid.New()
	return &Store{
		plain:       make(map[common.Hash]*versioned),
		aggV2:       make(map[aggregator.AggregatorID]*versioned),
		destroyedV1: make(map[common.Hash]blockstm.TxnIndex),
		cache:       cache,
		runID:       id,
		log:         log.New("module", "mvstore", "store", id.String()),
	}
}

// MarkDestroyedV1 records that txnIdx destroyed the v1 aggregator at key.
// Reads of key from a higher-indexed transaction thereafter fail with
// ErrSpeculative rather than silently returning zero.
func (s *Store) MarkDestroyedV1(txnIdx blockstm.TxnIndex, key common.Hash) {
	s.mu.Lock()
	s.destroyedV1[key] = txnIdx
	s.mu.Unlock()
	s.invalidatePlain(key)
}

func cacheKeyPlain(key common.Hash, before blockstm.TxnIndex) string {
	return "p:" + key.Hex() + ":" + fmt.Sprint(before)
}

func cacheKeyAggV2(id aggregator.AggregatorID, before blockstm.TxnIndex) string {
	return fmt.Sprintf("a:%d:%d", id, before)
}

// GenerateAggregatorID mints a fresh id, unique within this store/block.
func (s *Store) GenerateAggregatorID() aggregator.AggregatorID {
	return aggregator.AggregatorID(s.idCounter.Add(1))
}

// ReadPlain resolves an ordinary (non-aggregator) storage key for a reader
// at readerIdx, per mode.
func (s *Store) ReadPlain(key common.Hash, readerIdx blockstm.TxnIndex, mode aggregator.ReadMode) (*uint256.Int, error) {
	s.mu.RLock()
	destroyedAt, destroyed := s.destroyedV1[key]
	s.mu.RUnlock()
	if destroyed && destroyedAt < readerIdx {
		return nil, ErrSpeculative(errDeletedV1Aggregator)
	}

	if mode == aggregator.Aggregated {
		if v, ok := s.cache.Get(cacheKeyPlain(key, readerIdx)); ok {
			return new(uint256.Int).Set(v.(*uint256.Int)), nil
		}
	}

	s.mu.RLock()
	entry, ok := s.plain[key]
	s.mu.RUnlock()
	if !ok {
		return uint256.NewInt(0), nil
	}

	var result *uint256.Int
	if mode == aggregator.LastCommitted {
		s.mu.RLock()
		result = new(uint256.Int).Set(entry.committed)
		s.mu.RUnlock()
	} else {
		s.mu.RLock()
		result = new(uint256.Int).Set(entry.mostRecentBefore(readerIdx))
		s.mu.RUnlock()
		s.cache.Add(cacheKeyPlain(key, readerIdx), result)
	}
	return result, nil
}

// StagePlain records txnIdx's speculative write to key, invalidating any
// cached Aggregated reads for it.
func (s *Store) StagePlain(txnIdx blockstm.TxnIndex, key common.Hash, value *uint256.Int) {
	s.mu.Lock()
	entry, ok := s.plain[key]
	if !ok {
		entry = newVersioned()
		s.plain[key] = entry
	}
	entry.writes[txnIdx] = new(uint256.Int).Set(value)
	s.mu.Unlock()
	s.invalidatePlain(key)
}

// CommitPlain promotes txnIdx's staged write to key into the committed
// baseline. Called by the executor once the scheduler confirms the commit.
func (s *Store) CommitPlain(txnIdx blockstm.TxnIndex, key common.Hash) {
	s.mu.Lock()
	entry, ok := s.plain[key]
	if ok {
		if v, staged := entry.writes[txnIdx]; staged {
			entry.committed = v
		}
	}
	s.mu.Unlock()
	s.invalidatePlain(key)
}

// invalidatePlain drops every cached Aggregated read for key, regardless of
// which reader index it was cached under. The cache is small (bounded by
// aggregatedCacheSize) so a linear scan on every write is cheap relative to
// the Aggregated read it is meant to avoid.
func (s *Store) invalidatePlain(key common.Hash) {
	prefix := "p:" + key.Hex() + ":"
	for _, k := range s.cache.Keys() {
		if ks, ok := k.(string); ok && len(ks) >= len(prefix) && ks[:len(prefix)] == prefix {
			s.cache.Remove(ks)
		}
	}
}

// invalidateAggV2 drops every cached Aggregated read for id, mirroring
// invalidatePlain.
func (s *Store) invalidateAggV2(id aggregator.AggregatorID) {
	prefix := fmt.Sprintf("a:%d:", id)
	for _, k := range s.cache.Keys() {
		if ks, ok := k.(string); ok && len(ks) >= len(prefix) && ks[:len(prefix)] == prefix {
			s.cache.Remove(ks)
		}
	}
}

// ReadAggregatorV2 resolves an aggregator v2 id for a reader at readerIdx.
func (s *Store) ReadAggregatorV2(id aggregator.AggregatorID, readerIdx blockstm.TxnIndex, mode aggregator.ReadMode) (*uint256.Int, error) {
	if mode == aggregator.Aggregated {
		if v, ok := s.cache.Get(cacheKeyAggV2(id, readerIdx)); ok {
			return new(uint256.Int).Set(v.(*uint256.Int)), nil
		}
	}

	s.mu.RLock()
	entry, ok := s.aggV2[id]
	s.mu.RUnlock()
	if !ok {
		return uint256.NewInt(0), nil
	}

	var result *uint256.Int
	if mode == aggregator.LastCommitted {
		s.mu.RLock()
		result = new(uint256.Int).Set(entry.committed)
		s.mu.RUnlock()
	} else {
		s.mu.RLock()
		result = new(uint256.Int).Set(entry.mostRecentBefore(readerIdx))
		s.mu.RUnlock()
		s.cache.Add(cacheKeyAggV2(id, readerIdx), result)
	}
	return result, nil
}

// StageAggregatorV2 records txnIdx's speculative resolved value for id.
func (s *Store) StageAggregatorV2(txnIdx blockstm.TxnIndex, id aggregator.AggregatorID, value *uint256.Int) {
	s.mu.Lock()
	entry, ok := s.aggV2[id]
	if !ok {
		entry = newVersioned()
		s.aggV2[id] = entry
	}
	entry.writes[txnIdx] = new(uint256.Int).Set(value)
	s.mu.Unlock()
	s.invalidateAggV2(id)
}

// CommitAggregatorV2 promotes txnIdx's staged value for id into the
// committed baseline.
func (s *Store) CommitAggregatorV2(txnIdx blockstm.TxnIndex, id aggregator.AggregatorID) {
	s.mu.Lock()
	entry, ok := s.aggV2[id]
	if ok {
		if v, staged := entry.writes[txnIdx]; staged {
			entry.committed = v
		}
	}
	s.mu.Unlock()
}

// View returns a per-transaction aggregator.Resolver bound to readerIdx.
func (s *Store) View(readerIdx blockstm.TxnIndex) *View {
	return &View{store: s, txnIdx: readerIdx}
}
