package mvstore

import (
	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// View is a per-transaction aggregator.Resolver bound to one reader's
// TxnIndex. The aggregator and blockstm packages never see a bare Store;
// every read they perform is scoped to "as seen by transaction txnIdx"
// (spec.md §6).
type View struct {
	store  *Store
	txnIdx blockstm.TxnIndex
}

var _ aggregator.Resolver = (*View)(nil)

// GenerateAggregatorID mints a fresh aggregator id.
func (v *View) GenerateAggregatorID() aggregator.AggregatorID {
	return v.store.GenerateAggregatorID()
}

// AggregatorV1Value resolves a v1 storage-key aggregator.
func (v *View) AggregatorV1Value(key common.Hash, mode aggregator.ReadMode) (*uint256.Int, error) {
	return v.store.ReadPlain(key, v.txnIdx, mode)
}

// AggregatorV2Value resolves an aggregator v2 instance by id.
func (v *View) AggregatorV2Value(id aggregator.AggregatorID, mode aggregator.ReadMode) (*uint256.Int, error) {
	return v.store.ReadAggregatorV2(id, v.txnIdx, mode)
}

// ReadPlain resolves an ordinary (non-aggregator) storage key, exposed for
// executor.Task implementations that read plain state alongside
// aggregators.
func (v *View) ReadPlain(key common.Hash, mode aggregator.ReadMode) (*uint256.Int, error) {
	return v.store.ReadPlain(key, v.txnIdx, mode)
}

// WritePlain stages a speculative write to an ordinary storage key under
// this view's transaction index.
func (v *View) WritePlain(key common.Hash, value *uint256.Int) {
	v.store.StagePlain(v.txnIdx, key, value)
}

// WriteAggregatorV2 stages a speculative resolved value for an aggregator
// v2 id under this view's transaction index.
func (v *View) WriteAggregatorV2(id aggregator.AggregatorID, value *uint256.Int) {
	v.store.StageAggregatorV2(v.txnIdx, id, value)
}

// TxnIndex returns the transaction index this view is scoped to.
func (v *View) TxnIndex() blockstm.TxnIndex { return v.txnIdx }
