package usecase

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cyberFlowTech/zapry-settlement/internal/chain"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
	"github.com/cyberFlowTech/zapry-settlement/internal/hdwallet"
)

// fakeStore is an in-memory stand-in for the Postgres ledger. It keeps
// the same atomicity promises the real repositories make (single mutex
// around every check-then-mutate), which is what the usecase tests
// exercise.
type fakeStore struct {
	mu sync.Mutex

	wallets   map[string]*domain.UserWallet // by user_id
	orders    map[string]*domain.RechargeOrder
	balances  map[string]*big.Int
	recharged map[string]*big.Int
	spent     map[string]*big.Int
	spends    []domain.SpendRecord
	usage     map[string]int // user|date|feature

	nextIndex uint32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:   make(map[string]*domain.UserWallet),
		orders:    make(map[string]*domain.RechargeOrder),
		balances:  make(map[string]*big.Int),
		recharged: make(map[string]*big.Int),
		spent:     make(map[string]*big.Int),
		usage:     make(map[string]int),
	}
}

// --- WalletStore / ScanWalletStore / SweepWalletStore ---

func (f *fakeStore) GetByUser(ctx context.Context, userID string) (*domain.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return w, nil
}

func (f *fakeStore) GetOrCreate(ctx context.Context, userID string, derive func(uint32) (string, error)) (*domain.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[userID]; ok {
		return w, nil
	}
	index := f.nextIndex
	f.nextIndex++
	address, err := derive(index)
	if err != nil {
		return nil, err
	}
	w := &domain.UserWallet{
		UserID:          userID,
		DerivationIndex: index,
		Address:         address,
		CreatedAt:       time.Now(),
	}
	f.wallets[userID] = w
	return w, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*domain.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallets := make([]*domain.UserWallet, 0, len(f.wallets))
	for _, w := range f.wallets {
		wallets = append(wallets, w)
	}
	return wallets, nil
}

func (f *fakeStore) AdvanceCheckpoint(ctx context.Context, address string, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.Address == address && block > w.LastScannedBlock {
			w.LastScannedBlock = block
		}
	}
	return nil
}

func (f *fakeStore) ListSweepCandidates(ctx context.Context) ([]*domain.UserWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byAddress := make(map[string]bool)
	for _, o := range f.orders {
		if o.Status == domain.OrderStatusCredited {
			byAddress[o.Address] = true
		}
	}
	var wallets []*domain.UserWallet
	for _, w := range f.wallets {
		if byAddress[w.Address] {
			wallets = append(wallets, w)
		}
	}
	return wallets, nil
}

// --- OrderStore ---

func (f *fakeStore) RecordIfNew(ctx context.Context, order *domain.RechargeOrder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.orders[order.TxHash]; exists {
		return false, nil
	}
	cp := *order
	cp.Status = domain.OrderStatusPending
	cp.DetectedAt = time.Now()
	f.orders[order.TxHash] = &cp
	return true, nil
}

func (f *fakeStore) ListUnsettled(ctx context.Context) ([]*domain.RechargeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []*domain.RechargeOrder
	for _, o := range f.orders {
		if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusConfirmed {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	return orders, nil
}

func (f *fakeStore) UpdateConfirmations(ctx context.Context, txHash string, confirmations int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[txHash]; ok {
		o.Confirmations = confirmations
	}
	return nil
}

func (f *fakeStore) MarkConfirmed(ctx context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[txHash]; ok && o.Status == domain.OrderStatusPending {
		o.Status = domain.OrderStatusConfirmed
	}
	return nil
}

func (f *fakeStore) CreditOnce(ctx context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[txHash]
	if !ok || o.Status != domain.OrderStatusConfirmed {
		return false, nil
	}
	o.Status = domain.OrderStatusCredited
	f.creditLocked(o.UserID, o.Amount)
	return true, nil
}

// --- LedgerStore ---

func (f *fakeStore) creditLocked(userID string, amount *big.Int) {
	f.balances[userID] = new(big.Int).Add(f.balanceLocked(userID), amount)
	prev := f.recharged[userID]
	if prev == nil {
		prev = big.NewInt(0)
	}
	f.recharged[userID] = new(big.Int).Add(prev, amount)
}

func (f *fakeStore) balanceLocked(userID string) *big.Int {
	if b, ok := f.balances[userID]; ok {
		return b
	}
	return big.NewInt(0)
}

func (f *fakeStore) GetBalance(ctx context.Context, userID string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balanceLocked(userID)), nil
}

func (f *fakeStore) GetBalanceInfo(ctx context.Context, userID string) (*domain.BalanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := &domain.BalanceInfo{
		UserID:         userID,
		Balance:        new(big.Int).Set(f.balanceLocked(userID)),
		TotalRecharged: big.NewInt(0),
		TotalSpent:     big.NewInt(0),
	}
	if v, ok := f.recharged[userID]; ok {
		info.TotalRecharged = new(big.Int).Set(v)
	}
	if v, ok := f.spent[userID]; ok {
		info.TotalSpent = new(big.Int).Set(v)
	}
	return info, nil
}

func (f *fakeStore) Debit(ctx context.Context, userID string, amount *big.Int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance := f.balanceLocked(userID)
	if balance.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	f.balances[userID] = new(big.Int).Sub(balance, amount)
	prev := f.spent[userID]
	if prev == nil {
		prev = big.NewInt(0)
	}
	f.spent[userID] = new(big.Int).Add(prev, amount)
	f.spends = append(f.spends, domain.SpendRecord{
		UserID:    userID,
		Amount:    new(big.Int).Set(amount),
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) Credit(ctx context.Context, userID string, amount *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditLocked(userID, amount)
	return new(big.Int).Set(f.balanceLocked(userID)), nil
}

// --- UsageStore ---

func usageKey(userID, feature, date string) string {
	return userID + "|" + date + "|" + feature
}

func (f *fakeStore) IncrementIfBelow(ctx context.Context, userID, feature, date string, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		return false, nil
	}
	key := usageKey(userID, feature, date)
	if f.usage[key] >= limit {
		return false, nil
	}
	f.usage[key]++
	return true, nil
}

func (f *fakeStore) GetCount(ctx context.Context, userID, feature, date string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[usageKey(userID, feature, date)], nil
}

func (f *fakeStore) orderStatus(txHash string) domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[txHash]; ok {
		return o.Status
	}
	return ""
}

// fakeSweepStore is the durable sweep ledger. It shares the order map
// with fakeStore so that confirming a sweep flips credited orders to
// swept, the way the real repository does in one transaction.
type fakeSweepStore struct {
	store *fakeStore

	mu     sync.Mutex
	sweeps map[int64]*domain.Sweep
	nextID int64
}

func newFakeSweepStore(store *fakeStore) *fakeSweepStore {
	return &fakeSweepStore{
		store:  store,
		sweeps: make(map[int64]*domain.Sweep),
	}
}

func (f *fakeSweepStore) Create(ctx context.Context, s *domain.Sweep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	s.Status = domain.SweepStatusBroadcast
	cp := *s
	f.sweeps[s.ID] = &cp
	return nil
}

func (f *fakeSweepStore) GetActiveByAddress(ctx context.Context, address string) (*domain.Sweep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sweeps {
		if s.Address == address && s.Status == domain.SweepStatusBroadcast {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSweepStore) ListActive(ctx context.Context) ([]*domain.Sweep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sweeps []*domain.Sweep
	for _, s := range f.sweeps {
		if s.Status == domain.SweepStatusBroadcast {
			cp := *s
			sweeps = append(sweeps, &cp)
		}
	}
	return sweeps, nil
}

func (f *fakeSweepStore) MarkConfirmed(ctx context.Context, sweepID int64, address string) error {
	f.mu.Lock()
	if s, ok := f.sweeps[sweepID]; ok && s.Status == domain.SweepStatusBroadcast {
		s.Status = domain.SweepStatusConfirmed
	}
	f.mu.Unlock()

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, o := range f.store.orders {
		if o.Address == address && o.Status == domain.OrderStatusCredited {
			o.Status = domain.OrderStatusSwept
		}
	}
	return nil
}

func (f *fakeSweepStore) MarkFailed(ctx context.Context, sweepID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sweeps[sweepID]; ok {
		s.Status = domain.SweepStatusFailed
		s.Attempts++
		s.LastError = reason
	}
	return nil
}

func (f *fakeSweepStore) sweepStatus(sweepID int64) domain.SweepStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sweeps[sweepID]; ok {
		return s.Status
	}
	return ""
}

func (f *fakeSweepStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sweeps)
}

// fakeChain is a scriptable chain RPC.
type fakeChain struct {
	mu sync.Mutex

	head      uint64
	headErr   error
	transfers []chain.Transfer
	filterErr error

	confirmations map[string]int
	confErr       map[string]error

	tokenBalances map[string]*big.Int
	balanceErr    error

	sweepCalls int
	sweepErr   error
	sweepDelay time.Duration

	lastFrom, lastTo uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		confirmations: make(map[string]int),
		confErr:       make(map[string]error),
		tokenBalances: make(map[string]*big.Int),
	}
}

func (f *fakeChain) HeadBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FilterIncomingTransfers(ctx context.Context, addresses []string, fromBlock, toBlock uint64) ([]chain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFrom, f.lastTo = fromBlock, toBlock
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var matched []chain.Transfer
	for _, t := range f.transfers {
		for _, a := range addresses {
			if t.To == a && t.BlockNumber >= fromBlock && t.BlockNumber <= toBlock {
				matched = append(matched, t)
			}
		}
	}
	return matched, nil
}

func (f *fakeChain) Confirmations(ctx context.Context, txHash string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.confErr[txHash]; ok && err != nil {
		return 0, err
	}
	return f.confirmations[txHash], nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if b, ok := f.tokenBalances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) SweepTokens(ctx context.Context, key *hdwallet.SigningKey, to string, amount *big.Int) (string, error) {
	f.mu.Lock()
	calls := f.sweepCalls + 1
	f.sweepCalls = calls
	err := f.sweepErr
	delay := f.sweepDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0xsweep%d", calls), nil
}

func (f *fakeChain) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweepCalls
}

// fakeLocker is an in-process Locker with real mutual exclusion.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
}
