package usecase

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/chain"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

const (
	testAddr   = "0x1111111111111111111111111111111111111111"
	testSender = "0x2222222222222222222222222222222222222222"
)

func usdt(n int64) *big.Int {
	// 18-decimal token units.
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func addTestWallet(store *fakeStore, userID, address string, checkpoint uint64) {
	store.wallets[userID] = &domain.UserWallet{
		UserID:           userID,
		DerivationIndex:  uint32(len(store.wallets)),
		Address:          address,
		LastScannedBlock: checkpoint,
		CreatedAt:        time.Now(),
	}
}

func newDepositUsecase(store *fakeStore, ch *fakeChain, threshold int) *DepositUsecase {
	return NewDepositUsecase(store, store, ch, DepositParams{
		ConfirmationThreshold: threshold,
		MaxBlockRange:         5000,
	}, zap.NewNop())
}

func TestScanRecordsDepositOnceAcrossCycles(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.transfers = []chain.Transfer{
		{TxHash: "0xaa", From: testSender, To: testAddr, Amount: usdt(10), BlockNumber: 150},
	}

	uc := newDepositUsecase(store, ch, 12)
	ctx := context.Background()

	// Polling naturally revisits the same window after restarts; run the
	// scan several times against the same data.
	for i := 0; i < 5; i++ {
		require.NoError(t, uc.ScanDeposits(ctx))
		// Simulate a restart losing in-memory state: rewind the checkpoint.
		store.mu.Lock()
		store.wallets["u1"].LastScannedBlock = 100
		store.mu.Unlock()
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.orders, 1)
	assert.Equal(t, domain.OrderStatusPending, store.orders["0xaa"].Status)
	assert.Equal(t, "u1", store.orders["0xaa"].UserID)
}

func TestScanAdvancesCheckpoint(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200

	uc := newDepositUsecase(store, ch, 12)
	require.NoError(t, uc.ScanDeposits(context.Background()))

	assert.Equal(t, uint64(101), ch.lastFrom)
	assert.Equal(t, uint64(200), ch.lastTo)

	w, err := store.GetByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), w.LastScannedBlock)
}

func TestScanNewWalletStartsNearHead(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 0)

	ch := newFakeChain()
	ch.head = 1000

	uc := newDepositUsecase(store, ch, 12)
	require.NoError(t, uc.ScanDeposits(context.Background()))

	assert.Equal(t, uint64(988), ch.lastFrom)
	assert.Equal(t, uint64(1000), ch.lastTo)
}

func TestScanFailureLeavesCheckpoint(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.filterErr = domain.ErrChainUnavailable

	uc := newDepositUsecase(store, ch, 12)
	// Per-wallet errors are contained; the cycle itself succeeds.
	require.NoError(t, uc.ScanDeposits(context.Background()))

	w, err := store.GetByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), w.LastScannedBlock)
}

func TestScanHeadFailureDoesNotTouchState(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.headErr = errors.New("rpc timeout")

	uc := newDepositUsecase(store, ch, 12)
	err := uc.ScanDeposits(context.Background())
	require.Error(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.orders)
	assert.Equal(t, uint64(100), store.wallets["u1"].LastScannedBlock)
}

func TestCreditingRequiresThresholdAndHappensOnce(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.transfers = []chain.Transfer{
		{TxHash: "0xaa", From: testSender, To: testAddr, Amount: usdt(10), BlockNumber: 150},
	}

	uc := newDepositUsecase(store, ch, 12)
	ctx := context.Background()
	require.NoError(t, uc.ScanDeposits(ctx))

	// 2 of 12 confirmations: must stay pending, balance untouched.
	ch.mu.Lock()
	ch.confirmations["0xaa"] = 2
	ch.mu.Unlock()
	require.NoError(t, uc.ProcessPending(ctx))

	assert.Equal(t, domain.OrderStatusPending, store.orderStatus("0xaa"))
	balance, err := store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())

	// Threshold reached: credited, exactly once, and balance rises by 10.
	ch.mu.Lock()
	ch.confirmations["0xaa"] = 12
	ch.mu.Unlock()
	require.NoError(t, uc.ProcessPending(ctx))

	assert.Equal(t, domain.OrderStatusCredited, store.orderStatus("0xaa"))
	balance, err = store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, usdt(10), balance)

	// Five more monitor cycles must not credit again.
	for i := 0; i < 5; i++ {
		require.NoError(t, uc.ProcessPending(ctx))
	}
	balance, err = store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, usdt(10), balance)
}

func TestProcessPendingSurvivesRepeatedRPCFailure(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.transfers = []chain.Transfer{
		{TxHash: "0xaa", From: testSender, To: testAddr, Amount: usdt(10), BlockNumber: 150},
	}

	uc := newDepositUsecase(store, ch, 12)
	ctx := context.Background()
	require.NoError(t, uc.ScanDeposits(ctx))

	ch.mu.Lock()
	ch.confErr["0xaa"] = domain.ErrChainUnavailable
	ch.mu.Unlock()

	// Three failing cycles in a row: no crash, no balance movement.
	for i := 0; i < 3; i++ {
		require.NoError(t, uc.ProcessPending(ctx))
	}
	balance, err := store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())
	assert.Equal(t, domain.OrderStatusPending, store.orderStatus("0xaa"))

	// RPC recovers: the next cycle settles normally.
	ch.mu.Lock()
	delete(ch.confErr, "0xaa")
	ch.confirmations["0xaa"] = 15
	ch.mu.Unlock()
	require.NoError(t, uc.ProcessPending(ctx))

	balance, err = store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, usdt(10), balance)
}

func TestRevertedDepositNeverCredits(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.transfers = []chain.Transfer{
		{TxHash: "0xbad", From: testSender, To: testAddr, Amount: usdt(5), BlockNumber: 150},
	}

	uc := newDepositUsecase(store, ch, 12)
	ctx := context.Background()
	require.NoError(t, uc.ScanDeposits(ctx))

	ch.mu.Lock()
	ch.confErr["0xbad"] = chain.ErrTxReverted
	ch.mu.Unlock()
	require.NoError(t, uc.ProcessPending(ctx))

	balance, err := store.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())
	assert.Equal(t, domain.OrderStatusPending, store.orderStatus("0xbad"))
}

func TestScanIgnoresZeroValueTransfers(t *testing.T) {
	store := newFakeStore()
	addTestWallet(store, "u1", testAddr, 100)

	ch := newFakeChain()
	ch.head = 200
	ch.transfers = []chain.Transfer{
		{TxHash: "0xzero", From: testSender, To: testAddr, Amount: big.NewInt(0), BlockNumber: 150},
	}

	uc := newDepositUsecase(store, ch, 12)
	require.NoError(t, uc.ScanDeposits(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.orders)
}
