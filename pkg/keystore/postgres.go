package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// PostgresStore persists keys in the user_keys table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Key implements llmclient.KeySource.
func (s *PostgresStore) Key(ctx context.Context, userID string, p providers.Provider) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`SELECT api_key FROM user_keys WHERE user_id = $1 AND provider = $2 AND is_valid`,
		userID, string(p),
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", llmclient.ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("failed to query user key: %w", err)
	}
	return key, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, userID string, p providers.Provider, key string) (string, error) {
	if !p.IsValid() {
		return "", fmt.Errorf("unknown provider %q", p)
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_keys (key_id, user_id, provider, api_key, is_valid)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET key_id = EXCLUDED.key_id, api_key = EXCLUDED.api_key,
			is_valid = TRUE, last_validated = NULL`,
		id, userID, string(p), key,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store user key: %w", err)
	}
	return id, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, userID string, p providers.Provider) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_keys WHERE user_id = $1 AND provider = $2`,
		userID, string(p),
	)
	if err != nil {
		return fmt.Errorf("failed to delete user key: %w", err)
	}
	return nil
}

// MarkValidated implements Store.
func (s *PostgresStore) MarkValidated(ctx context.Context, userID string, p providers.Provider, valid bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_keys SET is_valid = $3, last_validated = $4
		 WHERE user_id = $1 AND provider = $2`,
		userID, string(p), valid, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark user key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return llmclient.ErrNoKey
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key_id, provider, api_key, is_valid, COALESCE(last_validated, 'epoch'::timestamptz)
		FROM user_keys WHERE user_id = $1 ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{UserID: userID}
		var provider string
		if err := rows.Scan(&r.KeyID, &provider, &r.Key, &r.IsValid, &r.LastValidated); err != nil {
			return nil, fmt.Errorf("failed to scan user key: %w", err)
		}
		r.Provider = providers.Provider(provider)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user keys: %w", err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
