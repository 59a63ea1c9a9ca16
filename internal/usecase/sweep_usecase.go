package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/chain"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
	"github.com/cyberFlowTech/zapry-settlement/internal/hdwallet"
)

// SweepWalletStore lists wallets eligible for sweeping.
type SweepWalletStore interface {
	ListSweepCandidates(ctx context.Context) ([]*domain.UserWallet, error)
}

// SweepStore persists in-flight sweep state.
type SweepStore interface {
	Create(ctx context.Context, s *domain.Sweep) error
	GetActiveByAddress(ctx context.Context, address string) (*domain.Sweep, error)
	ListActive(ctx context.Context) ([]*domain.Sweep, error)
	MarkConfirmed(ctx context.Context, sweepID int64, address string) error
	MarkFailed(ctx context.Context, sweepID int64, reason string) error
}

// SweepChain is the chain surface the sweeper needs.
type SweepChain interface {
	TokenBalance(ctx context.Context, address string) (*big.Int, error)
	Confirmations(ctx context.Context, txHash string) (int, error)
	SweepTokens(ctx context.Context, key *hdwallet.SigningKey, to string, amount *big.Int) (string, error)
}

// KeyDeriver materializes the signing key for a derivation index.
type KeyDeriver interface {
	Derive(index uint32) (*hdwallet.SigningKey, error)
}

// Locker is a distributed per-address mutex (Redis SETNX underneath).
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string)
}

type SweepParams struct {
	ColdWallet            string
	Threshold             *big.Int
	ConfirmationThreshold int
	LockTTL               time.Duration
}

// SweepUsecase drains credited deposit addresses into the cold wallet.
// Sweeping is best-effort and idempotent: a persisted broadcast sweep
// plus the per-address lock guarantee single flight, and a restart
// resumes from the sweeps table without re-signing anything.
type SweepUsecase struct {
	wallets SweepWalletStore
	sweeps  SweepStore
	chain   SweepChain
	deriver KeyDeriver
	locker  Locker
	params  SweepParams
	logger  *zap.Logger
}

func NewSweepUsecase(
	wallets SweepWalletStore,
	sweeps SweepStore,
	sweepChain SweepChain,
	deriver KeyDeriver,
	locker Locker,
	params SweepParams,
	logger *zap.Logger,
) *SweepUsecase {
	if params.LockTTL <= 0 {
		params.LockTTL = 5 * time.Minute
	}
	return &SweepUsecase{
		wallets: wallets,
		sweeps:  sweeps,
		chain:   sweepChain,
		deriver: deriver,
		locker:  locker,
		params:  params,
		logger:  logger,
	}
}

// SweepCycle settles in-flight sweeps, then starts new ones.
func (uc *SweepUsecase) SweepCycle(ctx context.Context) error {
	if err := uc.ResumeInFlight(ctx); err != nil {
		uc.logger.Error("Failed to settle in-flight sweeps", zap.Error(err))
	}

	candidates, err := uc.wallets.ListSweepCandidates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	for _, wallet := range candidates {
		err := uc.SweepAddress(ctx, wallet)
		switch {
		case errors.Is(err, domain.ErrSweepInFlight):
			// Expected suppression, not a failure.
		case err != nil:
			uc.logger.Error("Sweep failed",
				zap.String("address", wallet.Address),
				zap.Error(err))
		}
	}

	return nil
}

// ResumeInFlight checks confirmation depth of broadcast sweeps and
// settles or fails them. Broadcast-but-unconfirmed sweeps survive
// restarts here; they are never re-signed blindly.
func (uc *SweepUsecase) ResumeInFlight(ctx context.Context) error {
	active, err := uc.sweeps.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sweeps: %w", err)
	}

	for _, s := range active {
		confirmations, err := uc.chain.Confirmations(ctx, s.TxHash)
		if errors.Is(err, chain.ErrTxReverted) {
			uc.logger.Error("Sweep transaction reverted, needs operator attention",
				zap.String("address", s.Address),
				zap.String("tx_hash", s.TxHash))
			if err := uc.sweeps.MarkFailed(ctx, s.ID, "transaction reverted"); err != nil {
				uc.logger.Error("Failed to record sweep failure", zap.Error(err))
			}
			continue
		}
		if err != nil {
			// Transient; re-check next cycle.
			uc.logger.Warn("Failed to check sweep confirmations",
				zap.String("tx_hash", s.TxHash),
				zap.Error(err))
			continue
		}

		if confirmations >= uc.params.ConfirmationThreshold {
			if err := uc.sweeps.MarkConfirmed(ctx, s.ID, s.Address); err != nil {
				uc.logger.Error("Failed to settle sweep", zap.Error(err))
				continue
			}
			uc.logger.Info("Sweep confirmed",
				zap.String("address", s.Address),
				zap.String("tx_hash", s.TxHash),
				zap.String("amount", s.Amount.String()))
		}
	}

	return nil
}

// SweepAddress drains one deposit address. Returns ErrSweepInFlight
// when another sweep for the address is already running or broadcast.
func (uc *SweepUsecase) SweepAddress(ctx context.Context, wallet *domain.UserWallet) error {
	lockKey := "sweep:" + wallet.Address
	ok, err := uc.locker.Acquire(ctx, lockKey, uc.params.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !ok {
		return domain.ErrSweepInFlight
	}
	defer uc.locker.Release(ctx, lockKey)

	// Re-check the durable in-flight marker under the lock.
	active, err := uc.sweeps.GetActiveByAddress(ctx, wallet.Address)
	if err != nil {
		return err
	}
	if active != nil {
		return domain.ErrSweepInFlight
	}

	balance, err := uc.chain.TokenBalance(ctx, wallet.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(uc.params.Threshold) < 0 {
		return nil
	}

	key, err := uc.deriver.Derive(wallet.DerivationIndex)
	if err != nil {
		return fmt.Errorf("failed to derive signing key: %w", err)
	}
	defer key.Zero()

	txHash, err := uc.chain.SweepTokens(ctx, key, uc.params.ColdWallet, balance)
	if err != nil {
		return err
	}

	sweep := &domain.Sweep{
		Address: wallet.Address,
		Amount:  balance,
		TxHash:  txHash,
	}
	if err := uc.sweeps.Create(ctx, sweep); err != nil {
		// The transfer is on chain but the marker is not. Surface loudly:
		// the next cycle would otherwise try to re-sweep a drained address
		// (which fails harmlessly at the balance check, but must be known).
		uc.logger.Error("Sweep broadcast but not persisted",
			zap.String("address", wallet.Address),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return err
	}

	uc.logger.Info("Sweep broadcast",
		zap.String("address", wallet.Address),
		zap.String("cold_wallet", uc.params.ColdWallet),
		zap.String("amount", balance.String()),
		zap.String("tx_hash", txHash))

	return nil
}
