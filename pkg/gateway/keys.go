package gateway

import (
	"context"
	"time"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Key management frames. Key material flows in only; list replies never
// echo it back. Every mutation invalidates the user's cached clients so
// the next collaboration resolves fresh keys.

func (m *ConnectionManager) handleSetAPIKey(ctx context.Context, c *Connection, f *InboundFrame) {
	if m.keys == nil {
		m.sendJSON(c, errorFrame("key management is not available"))
		return
	}
	p := providers.Provider(f.Provider)
	if !p.IsValid() {
		m.sendJSON(c, errorFrame("unknown provider"))
		return
	}
	if f.APIKey == "" {
		m.sendJSON(c, errorFrame("apiKey is required"))
		return
	}
	if _, err := m.keys.Put(ctx, c.session.userID, p, f.APIKey); err != nil {
		m.sendJSON(c, errorFrame("failed to store API key"))
		return
	}
	m.directory.Invalidate(c.session.userID)
	m.sendJSON(c, map[string]any{
		"type":     "api_key_set",
		"provider": string(p),
	})
}

func (m *ConnectionManager) handleDeleteAPIKey(ctx context.Context, c *Connection, f *InboundFrame) {
	if m.keys == nil {
		m.sendJSON(c, errorFrame("key management is not available"))
		return
	}
	p := providers.Provider(f.Provider)
	if !p.IsValid() {
		m.sendJSON(c, errorFrame("unknown provider"))
		return
	}
	if err := m.keys.Delete(ctx, c.session.userID, p); err != nil {
		m.sendJSON(c, errorFrame("failed to delete API key"))
		return
	}
	m.directory.Invalidate(c.session.userID)
	m.sendJSON(c, map[string]any{
		"type":     "api_key_deleted",
		"provider": string(p),
	})
}

func (m *ConnectionManager) handleListAPIKeys(ctx context.Context, c *Connection) {
	if m.keys == nil {
		m.sendJSON(c, errorFrame("key management is not available"))
		return
	}
	records, err := m.keys.List(ctx, c.session.userID)
	if err != nil {
		m.sendJSON(c, errorFrame("failed to list API keys"))
		return
	}
	keys := make([]map[string]any, 0, len(records))
	for _, r := range records {
		entry := map[string]any{
			"provider": string(r.Provider),
			"isValid":  r.IsValid,
		}
		if !r.LastValidated.IsZero() {
			entry["lastValidated"] = r.LastValidated.UTC().Format(time.RFC3339)
		}
		keys = append(keys, entry)
	}
	m.sendJSON(c, map[string]any{
		"type": "api_keys",
		"keys": keys,
	})
}
