package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

func (m *ConnectionManager) handleSetCollabMode(c *Connection, f *InboundFrame) {
	mode := workflow.Mode(f.Mode)
	if !mode.IsValid() {
		m.sendJSON(c, errorFrame("unknown collaboration mode: "+f.Mode))
		return
	}
	c.session.settings.Mode = mode
	m.sendJSON(c, map[string]any{
		"type": "collab_mode_set",
		"mode": string(mode),
	})
}

func (m *ConnectionManager) handleSetCollabStyle(c *Connection, f *InboundFrame) {
	style := prompt.Style(f.Style)
	if !style.IsValid() {
		m.sendJSON(c, errorFrame("unknown collaboration style: "+f.Style))
		return
	}
	c.session.settings.Style = style
	m.sendJSON(c, map[string]any{
		"type":  "collab_style_set",
		"style": string(style),
	})
}

func (m *ConnectionManager) handleCancelCollaboration(c *Connection) {
	if !c.session.cancelActive() {
		m.sendJSON(c, errorFrame("no active collaboration"))
		return
	}
	m.sendJSON(c, map[string]any{"type": "collaboration_cancelled"})
}

func (m *ConnectionManager) handleContextStatus(c *Connection) {
	st := c.session.context.Status()
	m.sendJSON(c, contextStatusFrame("context_status", c.session, st))
}

func (m *ConnectionManager) handleResetContext(ctx context.Context, c *Connection) {
	st, err := m.contexts.Reset(ctx, c.session.context)
	if err != nil {
		m.noteDegraded(c, err)
	}
	m.sendJSON(c, contextStatusFrame("context_reset", c.session, st))
}

func (m *ConnectionManager) handleTrimContext(c *Connection) {
	removed := c.session.context.Trim()
	frame := contextStatusFrame("context_trimmed", c.session, c.session.context.Status())
	frame["removed"] = removed
	m.sendJSON(c, frame)
}

func (m *ConnectionManager) handleSetMaxContextSize(c *Connection, f *InboundFrame) {
	if f.Size <= 0 {
		m.sendJSON(c, errorFrame("size must be positive"))
		return
	}
	st := c.session.context.SetMaxSize(f.Size)
	m.sendJSON(c, contextStatusFrame("max_context_size_set", c.session, st))
}

func (m *ConnectionManager) handleSetContextMode(c *Connection, f *InboundFrame) {
	mode := contextstore.Mode(f.Mode)
	if err := c.session.context.SetMode(mode); err != nil {
		m.sendJSON(c, errorFrame("unknown context mode: "+f.Mode))
		return
	}
	m.sendJSON(c, map[string]any{
		"type": "context_mode_set",
		"mode": string(mode),
	})
}

// contextStatusFrame builds the common context status reply shape.
func contextStatusFrame(frameType string, s *session, st contextstore.Status) map[string]any {
	return map[string]any{
		"type":         frameType,
		"size":         st.Size,
		"maxSize":      st.MaxSize,
		"messageCount": s.context.MessageCount(),
		"percentUsed":  st.PercentUsed,
		"isNearLimit":  st.IsNearLimit,
	}
}

// noteDegraded flips the session into Degraded mode after a persistence
// failure. Chat keeps working; history just stops being durable.
func (m *ConnectionManager) noteDegraded(c *Connection, err error) {
	var unavailable *contextstore.UnavailableError
	if !errors.As(err, &unavailable) {
		return
	}
	if !c.session.isDegraded() {
		slog.Warn("Context persistence unavailable, session degraded",
			"connection_id", c.ID, "user_id", c.session.userID, "error", err)
		m.sendJSON(c, errorFrame("conversation history is temporarily unavailable; continuing without persistence"))
	}
	c.session.setState(StateDegraded)
}
