package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

type SweepRepository struct {
	pool *pgxpool.Pool
}

func NewSweepRepository(pool *pgxpool.Pool) *SweepRepository {
	return &SweepRepository{pool: pool}
}

const sweepColumns = `id, address, amount::text, tx_hash, status, attempts, last_error, created_at, updated_at`

func scanSweep(row pgx.Row) (*domain.Sweep, error) {
	s := &domain.Sweep{}
	var amount string
	err := row.Scan(&s.ID, &s.Address, &amount, &s.TxHash, &s.Status,
		&s.Attempts, &s.LastError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return s, nil
}

// Create persists a freshly broadcast sweep. The row is the durable
// in-flight marker that survives restarts.
func (r *SweepRepository) Create(ctx context.Context, s *domain.Sweep) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sweeps (address, amount, tx_hash, status)
		VALUES ($1, $2::numeric, $3, 'broadcast')
		RETURNING id, created_at, updated_at
	`, s.Address, numericString(s.Amount), s.TxHash).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sweep: %w", err)
	}
	s.Status = domain.SweepStatusBroadcast
	return nil
}

// GetActiveByAddress returns the broadcast-but-unconfirmed sweep for an
// address, or nil when none is in flight.
func (r *SweepRepository) GetActiveByAddress(ctx context.Context, address string) (*domain.Sweep, error) {
	s, err := scanSweep(r.pool.QueryRow(ctx, `
		SELECT `+sweepColumns+` FROM sweeps
		WHERE address = $1 AND status = 'broadcast'
		ORDER BY id DESC LIMIT 1
	`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active sweep: %w", err)
	}
	return s, nil
}

// ListActive returns all broadcast sweeps awaiting confirmation.
func (r *SweepRepository) ListActive(ctx context.Context) ([]*domain.Sweep, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sweepColumns+` FROM sweeps WHERE status = 'broadcast' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []*domain.Sweep
	for rows.Next() {
		s, err := scanSweep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		sweeps = append(sweeps, s)
	}
	return sweeps, rows.Err()
}

// MarkConfirmed settles a sweep: flips the sweep row to confirmed and
// the address's credited orders to swept, atomically.
func (r *SweepRepository) MarkConfirmed(ctx context.Context, sweepID int64, address string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE sweeps SET status = 'confirmed', updated_at = NOW()
		WHERE id = $1 AND status = 'broadcast'
	`, sweepID)
	if err != nil {
		return fmt.Errorf("failed to confirm sweep: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE recharge_orders
		SET status = 'swept', swept_at = NOW()
		WHERE address = $1 AND status = 'credited'
	`, address)
	if err != nil {
		return fmt.Errorf("failed to mark orders swept: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkFailed records a permanently failed sweep for operator follow-up.
// The address becomes eligible for a fresh sweep attempt.
func (r *SweepRepository) MarkFailed(ctx context.Context, sweepID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sweeps
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, sweepID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark sweep failed: %w", err)
	}
	return nil
}
