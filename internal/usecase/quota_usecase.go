package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/config"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

// LedgerStore is the balance slice of the ledger.
type LedgerStore interface {
	GetBalance(ctx context.Context, userID string) (*big.Int, error)
	GetBalanceInfo(ctx context.Context, userID string) (*domain.BalanceInfo, error)
	Debit(ctx context.Context, userID string, amount *big.Int, reason string) error
	Credit(ctx context.Context, userID string, amount *big.Int) (*big.Int, error)
}

// UsageStore tracks per-day free allowance consumption.
type UsageStore interface {
	IncrementIfBelow(ctx context.Context, userID, feature, date string, limit int) (bool, error)
	GetCount(ctx context.Context, userID, feature, date string) (int, error)
}

// FeatureQuota is the remaining free allowance of one feature today.
type FeatureQuota struct {
	Feature       string
	FreeRemaining int
	Price         *big.Int
}

// QuotaUsecase gates metered actions: free allowance first, then paid
// balance, otherwise denied. No action is ever granted without quota or
// balance backing it.
type QuotaUsecase struct {
	ledger LedgerStore
	usage  UsageStore
	quota  config.QuotaConfig
	logger *zap.Logger

	now func() time.Time
}

func NewQuotaUsecase(ledger LedgerStore, usage UsageStore, quota config.QuotaConfig, logger *zap.Logger) *QuotaUsecase {
	return &QuotaUsecase{
		ledger: ledger,
		usage:  usage,
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}
}

func (uc *QuotaUsecase) today() string {
	return uc.now().UTC().Format("2006-01-02")
}

// CheckAndConsume evaluates one use of feature. Free quota is always
// exhausted before balance is touched.
func (uc *QuotaUsecase) CheckAndConsume(ctx context.Context, userID, feature string) (domain.Outcome, error) {
	policy, ok := uc.quota.Features[feature]
	if !ok {
		return domain.OutcomeDenied, fmt.Errorf("unknown feature %q", feature)
	}

	free, err := uc.usage.IncrementIfBelow(ctx, userID, feature, uc.today(), policy.FreePerDay)
	if err != nil {
		return domain.OutcomeDenied, err
	}
	if free {
		return domain.OutcomeAllowedFree, nil
	}

	err = uc.ledger.Debit(ctx, userID, policy.Price, feature)
	if errors.Is(err, domain.ErrInsufficientBalance) {
		return domain.OutcomeDenied, nil
	}
	if err != nil {
		return domain.OutcomeDenied, err
	}

	uc.logger.Info("Paid usage debited",
		zap.String("user_id", userID),
		zap.String("feature", feature),
		zap.String("price", policy.Price.String()))

	return domain.OutcomeAllowedPaid, nil
}

// GetBalance returns the user's spendable balance.
func (uc *QuotaUsecase) GetBalance(ctx context.Context, userID string) (*big.Int, error) {
	return uc.ledger.GetBalance(ctx, userID)
}

// GetBalanceInfo returns balance plus lifetime totals.
func (uc *QuotaUsecase) GetBalanceInfo(ctx context.Context, userID string) (*domain.BalanceInfo, error) {
	return uc.ledger.GetBalanceInfo(ctx, userID)
}

// DailySummary reports the remaining free allowance per feature today.
func (uc *QuotaUsecase) DailySummary(ctx context.Context, userID string) ([]FeatureQuota, error) {
	date := uc.today()

	summary := make([]FeatureQuota, 0, len(uc.quota.Features))
	for feature, policy := range uc.quota.Features {
		count, err := uc.usage.GetCount(ctx, userID, feature, date)
		if err != nil {
			return nil, err
		}
		remaining := policy.FreePerDay - count
		if remaining < 0 {
			remaining = 0
		}
		summary = append(summary, FeatureQuota{
			Feature:       feature,
			FreeRemaining: remaining,
			Price:         policy.Price,
		})
	}
	return summary, nil
}

// TopUp credits a user's balance manually (operator action). Returns
// the new balance.
func (uc *QuotaUsecase) TopUp(ctx context.Context, userID string, amount *big.Int) (*big.Int, error) {
	newBalance, err := uc.ledger.Credit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("Manual top-up applied",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("new_balance", newBalance.String()))

	return newBalance, nil
}
