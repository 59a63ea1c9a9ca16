package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

// WalletStore is the wallet slice of the ledger the wallet flow needs.
type WalletStore interface {
	GetByUser(ctx context.Context, userID string) (*domain.UserWallet, error)
	GetOrCreate(ctx context.Context, userID string, derive func(index uint32) (string, error)) (*domain.UserWallet, error)
}

// AddressDeriver derives the deposit address for a derivation index.
type AddressDeriver interface {
	Address(index uint32) (string, error)
}

type WalletUsecase struct {
	wallets WalletStore
	deriver AddressDeriver
	logger  *zap.Logger
}

func NewWalletUsecase(wallets WalletStore, deriver AddressDeriver, logger *zap.Logger) *WalletUsecase {
	return &WalletUsecase{
		wallets: wallets,
		deriver: deriver,
		logger:  logger,
	}
}

// GetOrCreateWallet returns the user's dedicated deposit address,
// deriving and persisting it on first request.
func (uc *WalletUsecase) GetOrCreateWallet(ctx context.Context, userID string) (*domain.UserWallet, error) {
	wallet, err := uc.wallets.GetOrCreate(ctx, userID, uc.deriver.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create wallet: %w", err)
	}

	uc.logger.Info("Wallet resolved",
		zap.String("user_id", userID),
		zap.Uint32("derivation_index", wallet.DerivationIndex),
		zap.String("address", wallet.Address))

	return wallet, nil
}
