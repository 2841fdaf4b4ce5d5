package mvstore

import (
	"testing"

	"github.com/blockstm-labs/blockstm"
	"github.com/blockstm-labs/blockstm/aggregator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewWritePlainIsVisibleToLaterReaders(t *testing.T) {
	s := NewStore()
	key := common.HexToHash("0x03")

	writer := s.View(blockstm.TxnIndex(0))
	writer.WritePlain(key, uint256.NewInt(7))

	reader := s.View(blockstm.TxnIndex(1))
	v, err := reader.ReadPlain(key, aggregator.Aggregated)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(7), v)
}

func TestViewTxnIndex(t *testing.T) {
	s := NewStore()
	v := s.View(blockstm.TxnIndex(42))
	assert.Equal(t, blockstm.TxnIndex(42), v.TxnIndex())
}
