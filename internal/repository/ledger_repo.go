package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// GetBalance returns the user's spendable balance; users with no ledger
// row have a zero balance.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID string) (*big.Int, error) {
	var amount string
	err := r.pool.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseNumeric(amount)
}

// GetBalanceInfo returns balance plus lifetime recharge/spend totals.
func (r *LedgerRepository) GetBalanceInfo(ctx context.Context, userID string) (*domain.BalanceInfo, error) {
	info := &domain.BalanceInfo{
		UserID:         userID,
		Balance:        big.NewInt(0),
		TotalRecharged: big.NewInt(0),
		TotalSpent:     big.NewInt(0),
	}

	var amount, recharged, spent string
	err := r.pool.QueryRow(ctx, `
		SELECT amount::text, total_recharged::text, total_spent::text
		FROM balances WHERE user_id = $1
	`, userID).Scan(&amount, &recharged, &spent)
	if errors.Is(err, pgx.ErrNoRows) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance info: %w", err)
	}

	if info.Balance, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if info.TotalRecharged, err = parseNumeric(recharged); err != nil {
		return nil, err
	}
	if info.TotalSpent, err = parseNumeric(spent); err != nil {
		return nil, err
	}
	return info, nil
}

// Debit atomically decrements the balance and appends a spend record.
// The conditional UPDATE is the guard: a concurrent debit of the same
// user cannot observe a split read-modify-write, and overdrafts fail
// with domain.ErrInsufficientBalance.
func (r *LedgerRepository) Debit(ctx context.Context, userID string, amount *big.Int, reason string) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET amount = amount - $2::numeric,
		    total_spent = total_spent + $2::numeric,
		    updated_at = NOW()
		WHERE user_id = $1 AND amount >= $2::numeric
	`, userID, numericString(amount))
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO spend_records (id, user_id, amount, reason) VALUES ($1, $2, $3::numeric, $4)
	`, uuid.NewString(), userID, numericString(amount), reason)
	if err != nil {
		return fmt.Errorf("failed to append spend record: %w", err)
	}

	return tx.Commit(ctx)
}

// Credit adds to a user's balance outside the deposit flow (manual
// operator top-up). Returns the new balance.
func (r *LedgerRepository) Credit(ctx context.Context, userID string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("credit amount must be positive")
	}

	var newBalance string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO balances (user_id, amount, total_recharged)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (user_id) DO UPDATE SET
			amount = balances.amount + EXCLUDED.amount,
			total_recharged = balances.total_recharged + EXCLUDED.amount,
			updated_at = NOW()
		RETURNING amount::text
	`, userID, numericString(amount)).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}
	return parseNumeric(newBalance)
}
