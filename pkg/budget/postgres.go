package budget

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDailyStore implements DailyStore on a pgx connection pool.
//
// The daily aggregate uses INSERT ... ON CONFLICT DO UPDATE with an
// additive SET, which is the compare-and-add primitive: concurrent
// increments for the same (user, day) row serialise on the row lock and
// none are lost.
type PostgresDailyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDailyStore creates a store on an existing pool.
func NewPostgresDailyStore(pool *pgxpool.Pool) *PostgresDailyStore {
	return &PostgresDailyStore{pool: pool}
}

// Add implements DailyStore.
func (s *PostgresDailyStore) Add(ctx context.Context, userID string, day Day, usd float64) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO daily_spend (user_id, day, total_usd)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, day)
		DO UPDATE SET total_usd = daily_spend.total_usd + EXCLUDED.total_usd
		RETURNING total_usd`,
		userID, string(day), usd,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to add daily spend: %w", err)
	}
	return total, nil
}

// Total implements DailyStore.
func (s *PostgresDailyStore) Total(ctx context.Context, userID string, day Day) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT total_usd FROM daily_spend WHERE user_id = $1 AND day = $2), 0)`,
		userID, string(day),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to query daily spend: %w", err)
	}
	return total, nil
}

// SetLimit implements DailyStore.
func (s *PostgresDailyStore) SetLimit(ctx context.Context, userID string, usd float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_limits (user_id, limit_usd)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET limit_usd = EXCLUDED.limit_usd`,
		userID, usd,
	)
	if err != nil {
		return fmt.Errorf("failed to set daily limit: %w", err)
	}
	return nil
}

// Limit implements DailyStore.
func (s *PostgresDailyStore) Limit(ctx context.Context, userID string) (float64, error) {
	var limit float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT limit_usd FROM daily_limits WHERE user_id = $1), 0)`,
		userID,
	).Scan(&limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query daily limit: %w", err)
	}
	return limit, nil
}
