package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// IncrementIfBelow consumes one unit of today's free allowance for
// (user, feature) when the counter is still below limit. The upsert
// makes check and increment a single statement, so concurrent calls
// cannot both pass a nearly-exhausted allowance.
func (r *UsageRepository) IncrementIfBelow(ctx context.Context, userID, feature, date string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO daily_usage (user_id, usage_date, feature, count)
		VALUES ($1, $2::date, $3, 1)
		ON CONFLICT (user_id, usage_date, feature)
		DO UPDATE SET count = daily_usage.count + 1
		WHERE daily_usage.count < $4
	`, userID, date, feature, limit)
	if err != nil {
		return false, fmt.Errorf("failed to consume free quota: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetCount returns today's usage count for (user, feature); zero when
// no row exists yet.
func (r *UsageRepository) GetCount(ctx context.Context, userID, feature, date string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count FROM daily_usage
		WHERE user_id = $1 AND usage_date = $2::date AND feature = $3
	`, userID, date, feature).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}
