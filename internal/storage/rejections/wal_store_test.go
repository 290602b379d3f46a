package rejections

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/stretchr/testify/require"
)

func newTestRejection(reason entity.RejectionReason) entity.RebalanceQuoteRejection {
	return entity.RebalanceQuoteRejection{
		RebalanceID:   "group-1",
		Strategy:      entity.StrategyLiFi,
		Reason:        reason,
		SwapAmount:    big.NewInt(250_000),
		Details:       "slippage 0.03 above maximum 0.01",
		WalletAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func TestCreateAndCount(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.False(t, store.HasRejectionsInLastHour())

	require.NoError(t, store.Create(newTestRejection(entity.RejectionHighSlippage)))
	require.NoError(t, store.Create(newTestRejection(entity.RejectionProviderError)))

	require.True(t, store.HasRejectionsInLastHour())
	require.Equal(t, 2, store.RecentRejectionCount(60))
}

func TestCountWindow(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	old := newTestRejection(entity.RejectionTimeout)
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Create(old))

	require.NoError(t, store.Create(newTestRejection(entity.RejectionHighSlippage)))

	require.Equal(t, 1, store.RecentRejectionCount(60))
	require.Equal(t, 2, store.RecentRejectionCount(3*60))
}

func TestRecoveryFromWAL(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(newTestRejection(entity.RejectionInsufficientLiquidity)))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 1, reopened.RecentRejectionCount(60))
}

func TestNilStoreFailsClosed(t *testing.T) {
	var store *WALStore
	require.False(t, store.HasRejectionsInLastHour())
	require.Zero(t, store.RecentRejectionCount(60))
	require.Error(t, store.Create(newTestRejection(entity.RejectionTimeout)))
}
