package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyberFlowTech/zapry-settlement/internal/domain"
)

// walletAllocLock serializes derivation index allocation across
// concurrent transactions (pg_advisory_xact_lock key).
const walletAllocLock = 0x7a5f77616c // "z_wal"

type WalletRepository struct {
	pool *pgxpool.Pool
}

func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

const walletColumns = `user_id, derivation_index, address, last_scanned_block, created_at`

func scanWallet(row pgx.Row) (*domain.UserWallet, error) {
	w := &domain.UserWallet{}
	var index int64
	var block int64
	err := row.Scan(&w.UserID, &index, &w.Address, &block, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.DerivationIndex = uint32(index)
	w.LastScannedBlock = uint64(block)
	return w, nil
}

// GetByUser returns the user's wallet, or domain.ErrWalletNotFound.
func (r *WalletRepository) GetByUser(ctx context.Context, userID string) (*domain.UserWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM user_wallets WHERE user_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetOrCreate returns the user's wallet, allocating the next unused
// derivation index under an advisory lock when the user has none.
// Concurrent first-time calls for the same user observe one row; the
// index sequence never reuses a value. derive maps the allocated index
// to its deposit address.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID string, derive func(index uint32) (string, error)) (*domain.UserWallet, error) {
	// Fast path outside the lock.
	if w, err := r.GetByUser(ctx, userID); err == nil {
		return w, nil
	} else if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(walletAllocLock)); err != nil {
		return nil, fmt.Errorf("failed to take allocation lock: %w", err)
	}

	// Re-check under the lock; a concurrent request may have won.
	w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM user_wallets WHERE user_id = $1`, userID))
	if err == nil {
		return w, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to re-check wallet: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(derivation_index) + 1, 0) FROM user_wallets`).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to allocate index: %w", err)
	}

	address, err := derive(uint32(next))
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}

	w = &domain.UserWallet{
		UserID:          userID,
		DerivationIndex: uint32(next),
		Address:         address,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO user_wallets (user_id, derivation_index, address)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, userID, next, address).Scan(&w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}

	return w, tx.Commit(ctx)
}

// ListActive returns every wallet, ordered by derivation index, for the
// deposit scan cycle.
func (r *WalletRepository) ListActive(ctx context.Context) ([]*domain.UserWallet, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+walletColumns+` FROM user_wallets ORDER BY derivation_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.UserWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ListSweepCandidates returns wallets holding at least one credited,
// not yet swept order.
func (r *WalletRepository) ListSweepCandidates(ctx context.Context) ([]*domain.UserWallet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT w.user_id, w.derivation_index, w.address, w.last_scanned_block, w.created_at
		FROM user_wallets w
		JOIN recharge_orders o ON o.address = w.address
		WHERE o.status = 'credited'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.UserWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// AdvanceCheckpoint moves the per-address scan checkpoint forward.
// GREATEST keeps it monotonic under replays.
func (r *WalletRepository) AdvanceCheckpoint(ctx context.Context, address string, block uint64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE user_wallets
		SET last_scanned_block = GREATEST(last_scanned_block, $2)
		WHERE address = $1
	`, address, int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}
