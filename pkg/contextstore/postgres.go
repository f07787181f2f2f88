package contextstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// PostgresPersister stores conversation history in the context_messages
// table.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPostgresPersister creates a persister on an existing pool.
func NewPostgresPersister(pool *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{pool: pool}
}

// SaveMessage implements Persister.
func (p *PostgresPersister) SaveMessage(ctx context.Context, userID, sessionID string, m Message) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO context_messages (user_id, session_id, role, provider, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, sessionID, m.Role, string(m.Provider), m.Text, m.At,
	)
	if err != nil {
		return fmt.Errorf("failed to save context message: %w", err)
	}
	return nil
}

// LoadMessages implements Persister.
func (p *PostgresPersister) LoadMessages(ctx context.Context, userID, sessionID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT role, provider, content, created_at
		FROM context_messages
		WHERE user_id = $1 AND session_id = $2
		ORDER BY id`,
		userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load context messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var provider string
		if err := rows.Scan(&m.Role, &provider, &m.Text, &m.At); err != nil {
			return nil, fmt.Errorf("failed to scan context message: %w", err)
		}
		m.Provider = providers.Provider(provider)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate context messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessages implements Persister.
func (p *PostgresPersister) DeleteMessages(ctx context.Context, userID, sessionID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM context_messages WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete context messages: %w", err)
	}
	return nil
}

var _ Persister = (*PostgresPersister)(nil)
