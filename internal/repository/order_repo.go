package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, tx_hash, user_id, address, from_address, amount::text,
	block_number, confirmations, status, detected_at, confirmed_at, credited_at, swept_at`

func scanOrder(row pgx.Row) (*domain.RechargeOrder, error) {
	o := &domain.RechargeOrder{}
	var amount string
	var block int64
	err := row.Scan(&o.ID, &o.TxHash, &o.UserID, &o.Address, &o.FromAddress, &amount,
		&block, &o.Confirmations, &o.Status, &o.DetectedAt, &o.ConfirmedAt, &o.CreditedAt, &o.SweptAt)
	if err != nil {
		return nil, err
	}
	o.BlockNumber = uint64(block)
	if o.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return o, nil
}

// RecordIfNew inserts a recharge order unless its tx hash was already
// seen. This is the sole idempotency gate against repeated polling:
// the unique constraint on tx_hash decides, not caller state.
func (r *OrderRepository) RecordIfNew(ctx context.Context, o *domain.RechargeOrder) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO recharge_orders
			(tx_hash, user_id, address, from_address, amount, block_number, confirmations, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (tx_hash) DO NOTHING
	`, o.TxHash, o.UserID, o.Address, o.FromAddress, numericString(o.Amount),
		int64(o.BlockNumber), o.Confirmations)
	if err != nil {
		return false, fmt.Errorf("failed to record deposit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByTxHash returns the order for txHash, or domain.ErrOrderNotFound.
func (r *OrderRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.RechargeOrder, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM recharge_orders WHERE tx_hash = $1`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListUnsettled returns orders still waiting on confirmations or
// crediting, oldest first.
func (r *OrderRepository) ListUnsettled(ctx context.Context) ([]*domain.RechargeOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM recharge_orders
		WHERE status IN ('pending', 'confirmed')
		ORDER BY detected_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.RechargeOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateConfirmations records the latest observed confirmation depth.
func (r *OrderRepository) UpdateConfirmations(ctx context.Context, txHash string, confirmations int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recharge_orders SET confirmations = $2 WHERE tx_hash = $1
	`, txHash, confirmations)
	if err != nil {
		return fmt.Errorf("failed to update confirmations: %w", err)
	}
	return nil
}

// MarkConfirmed transitions pending -> confirmed. A no-op for any other
// status; the state machine only moves forward.
func (r *OrderRepository) MarkConfirmed(ctx context.Context, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recharge_orders
		SET status = 'confirmed', confirmed_at = NOW()
		WHERE tx_hash = $1 AND status = 'pending'
	`, txHash)
	if err != nil {
		return fmt.Errorf("failed to mark order confirmed: %w", err)
	}
	return nil
}

// CreditOnce flips a confirmed order to credited and adds its amount to
// the user's balance inside one transaction. Returns false when the
// order was already credited (or swept), so repeated monitor cycles
// cannot double-credit.
func (r *OrderRepository) CreditOnce(ctx context.Context, txHash string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, amount string
	err = tx.QueryRow(ctx, `
		UPDATE recharge_orders
		SET status = 'credited', credited_at = NOW()
		WHERE tx_hash = $1 AND status = 'confirmed'
		RETURNING user_id, amount::text
	`, txHash).Scan(&userID, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to credit order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, amount, total_recharged)
		VALUES ($1, $2::numeric, $2::numeric)
		ON CONFLICT (user_id) DO UPDATE SET
			amount = balances.amount + EXCLUDED.amount,
			total_recharged = balances.total_recharged + EXCLUDED.amount,
			updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	return true, tx.Commit(ctx)
}
