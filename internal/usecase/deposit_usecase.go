package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/chain"
	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

// ScanWalletStore is the wallet slice the deposit scan needs.
type ScanWalletStore interface {
	ListActive(ctx context.Context) ([]*domain.UserWallet, error)
	AdvanceCheckpoint(ctx context.Context, address string, block uint64) error
}

// OrderStore is the recharge-order slice of the ledger.
type OrderStore interface {
	RecordIfNew(ctx context.Context, order *domain.RechargeOrder) (bool, error)
	ListUnsettled(ctx context.Context) ([]*domain.RechargeOrder, error)
	UpdateConfirmations(ctx context.Context, txHash string, confirmations int) error
	MarkConfirmed(ctx context.Context, txHash string) error
	CreditOnce(ctx context.Context, txHash string) (bool, error)
}

// ChainReader is the read side of the chain RPC.
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterIncomingTransfers(ctx context.Context, addresses []string, fromBlock, toBlock uint64) ([]chain.Transfer, error)
	Confirmations(ctx context.Context, txHash string) (int, error)
}

type DepositParams struct {
	ConfirmationThreshold int
	MaxBlockRange         uint64
}

// DepositUsecase drives deposit detection and crediting. Delivery is
// at-least-once by design: the scan may revisit blocks after a restart,
// and the ledger's tx-hash uniqueness plus the status state machine
// make crediting exactly-once.
type DepositUsecase struct {
	wallets ScanWalletStore
	orders  OrderStore
	chain   ChainReader
	params  DepositParams
	logger  *zap.Logger
}

func NewDepositUsecase(
	wallets ScanWalletStore,
	orders OrderStore,
	chainReader ChainReader,
	params DepositParams,
	logger *zap.Logger,
) *DepositUsecase {
	if params.MaxBlockRange == 0 {
		params.MaxBlockRange = 5000
	}
	return &DepositUsecase{
		wallets: wallets,
		orders:  orders,
		chain:   chainReader,
		params:  params,
		logger:  logger,
	}
}

// ScanDeposits walks every wallet from its persisted block checkpoint
// and records newly seen transfers. The checkpoint only advances past
// blocks whose transfers were all recorded, so a crash re-scans them.
func (uc *DepositUsecase) ScanDeposits(ctx context.Context) error {
	head, err := uc.chain.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	wallets, err := uc.wallets.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}

	for _, wallet := range wallets {
		if err := uc.scanWallet(ctx, wallet, head); err != nil {
			uc.logger.Error("Failed to scan wallet",
				zap.String("address", wallet.Address),
				zap.Error(err))
			// One bad wallet never stalls the rest of the cycle.
			continue
		}
	}

	return nil
}

func (uc *DepositUsecase) scanWallet(ctx context.Context, wallet *domain.UserWallet, head uint64) error {
	from := wallet.LastScannedBlock + 1

	// A brand-new wallet starts a confirmation window behind the head
	// rather than at genesis: its address did not exist before now.
	if wallet.LastScannedBlock == 0 {
		back := uint64(uc.params.ConfirmationThreshold)
		if head > back {
			from = head - back
		} else {
			from = 1
		}
	}

	if from > head {
		return nil
	}

	to := head
	if to-from+1 > uc.params.MaxBlockRange {
		to = from + uc.params.MaxBlockRange - 1
	}

	transfers, err := uc.chain.FilterIncomingTransfers(ctx, []string{wallet.Address}, from, to)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			continue
		}

		created, err := uc.orders.RecordIfNew(ctx, &domain.RechargeOrder{
			TxHash:      t.TxHash,
			UserID:      wallet.UserID,
			Address:     wallet.Address,
			FromAddress: t.From,
			Amount:      t.Amount,
			BlockNumber: t.BlockNumber,
			Status:      domain.OrderStatusPending,
		})
		if err != nil {
			// Checkpoint stays put; this block range is re-scanned.
			return err
		}
		if created {
			uc.logger.Info("Deposit detected",
				zap.String("tx_hash", t.TxHash),
				zap.String("user_id", wallet.UserID),
				zap.String("address", wallet.Address),
				zap.String("amount", t.Amount.String()),
				zap.Uint64("block", t.BlockNumber))
		}
	}

	return uc.wallets.AdvanceCheckpoint(ctx, wallet.Address, to)
}

// ProcessPending re-checks confirmation depth for every unsettled order
// and credits the ones that crossed the threshold. Safe to run any
// number of times: CreditOnce is idempotent at the ledger.
func (uc *DepositUsecase) ProcessPending(ctx context.Context) error {
	orders, err := uc.orders.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unsettled orders: %w", err)
	}

	for _, order := range orders {
		if err := uc.settleOrder(ctx, order); err != nil {
			uc.logger.Error("Failed to settle order",
				zap.String("tx_hash", order.TxHash),
				zap.Error(err))
			continue
		}
	}

	return nil
}

func (uc *DepositUsecase) settleOrder(ctx context.Context, order *domain.RechargeOrder) error {
	confirmations, err := uc.chain.Confirmations(ctx, order.TxHash)
	if errors.Is(err, chain.ErrTxReverted) {
		// A reverted transfer never credits; leave the order parked for
		// operator review instead of inventing a backward transition.
		uc.logger.Warn("Deposit transaction reverted on chain",
			zap.String("tx_hash", order.TxHash))
		return nil
	}
	if err != nil {
		return err
	}

	if confirmations != order.Confirmations {
		if err := uc.orders.UpdateConfirmations(ctx, order.TxHash, confirmations); err != nil {
			return err
		}
	}

	// Never credit below the threshold: reorg protection.
	if confirmations < uc.params.ConfirmationThreshold {
		return nil
	}

	if err := uc.orders.MarkConfirmed(ctx, order.TxHash); err != nil {
		return err
	}

	credited, err := uc.orders.CreditOnce(ctx, order.TxHash)
	if err != nil {
		return err
	}
	if credited {
		uc.logger.Info("Deposit credited",
			zap.String("tx_hash", order.TxHash),
			zap.String("user_id", order.UserID),
			zap.String("amount", order.Amount.String()),
			zap.Int("confirmations", confirmations))
	}

	return nil
}
