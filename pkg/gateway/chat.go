package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

// handleChat validates a chat frame, filters agents by key availability and
// launches the collaboration. Events stream back to the client through the
// bus subscription; the frame handler returns immediately.
func (m *ConnectionManager) handleChat(ctx context.Context, c *Connection, f *InboundFrame) {
	s := c.session
	if f.Message == "" {
		m.sendJSON(c, errorFrame("message is required"))
		return
	}

	if err := budget.EnforceLimit(ctx, m.daily, s.userID, m.defaults.DailyCapUSD); err != nil {
		if errors.Is(err, budget.ErrDailyBudgetExceeded) {
			m.sendJSON(c, map[string]any{
				"type":    "budget_exceeded",
				"scope":   "daily",
				"message": "daily budget limit reached",
			})
			return
		}
		// A broken spend store must not block chat.
		slog.Warn("Daily budget check failed, continuing",
			"user_id", s.userID, "error", err)
	}

	available := m.directory.Availability(ctx, s.userID)

	mode := s.settings.Mode
	agents := available
	if f.Target != "" && f.Target != "collab" {
		p := providers.Provider(f.Target)
		if !p.IsValid() {
			m.sendJSON(c, errorFrame("unknown provider: "+f.Target))
			return
		}
		if !containsProvider(available, p) {
			m.sendJSON(c, providerErrorFrame(p, "no API key available for "+p.DisplayName()))
			return
		}
		agents = []providers.Provider{p}
		mode = workflow.ModeIndividual
	} else if f.CollaborationMode != "" {
		mode = workflow.Mode(f.CollaborationMode)
		if !mode.IsValid() {
			m.sendJSON(c, errorFrame("unknown collaboration mode: "+f.CollaborationMode))
			return
		}
	}

	if len(agents) == 0 {
		m.sendJSON(c, errorFrame("no AI models available"))
		return
	}

	style := s.settings.Style
	if f.SequentialStyle != "" {
		style = prompt.Style(f.SequentialStyle)
		if !style.IsValid() {
			m.sendJSON(c, errorFrame("unknown sequential style: "+f.SequentialStyle))
			return
		}
	}

	// Snapshot the history before recording the new message so the prompt
	// does not repeat the question inside the context block.
	history := s.context.FormatForPrompt()

	st, err := m.contexts.AddUserMessage(ctx, s.context, f.Message)
	if err != nil {
		m.noteDegraded(c, err)
	}
	if st.IsNearLimit {
		m.sendJSON(c, contextStatusFrame("context_warning", s, st))
	}

	opts := workflow.Options{
		Prompt:              f.Message,
		Mode:                mode,
		RequestedAgents:     agents,
		ModelOverrides:      m.resolveModels(f.Models),
		CostCapUSD:          s.settings.CostCapUSD,
		DeadlineSeconds:     s.settings.DeadlineSeconds,
		IgnoreFailingModels: s.settings.IgnoreFailingModels,
		SequentialStyle:     style,
		UserID:              s.userID,
		SessionID:           s.id,
		Context:             history,
		FilePaths:           f.FilePaths,
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	if !s.setActive(cancel) {
		cancel()
		m.sendJSON(c, errorFrame("a collaboration is already active"))
		return
	}
	s.setState(StateActive)

	// Subscribe before launching so no event can slip past the forwarder.
	events, unsubscribe := m.bus.Subscribe(s.id)
	go m.forwardEvents(c, events, unsubscribe)

	go func() {
		defer cancel()
		result := m.engine.Run(runCtx, opts)

		s.addSpend(result.SpentUSD)
		if result.SpentUSD > 0 {
			if _, err := m.daily.Add(context.Background(), s.userID, budget.Today(), result.SpentUSD); err != nil {
				slog.Warn("Failed to record daily spend",
					"user_id", s.userID, "error", err)
			}
		}

		if result.Final != "" {
			st, err := m.contexts.AddAssistantResponse(context.Background(), s.context, contextstore.Message{
				Role: contextstore.RoleAssistant,
				Text: result.Final,
			})
			if err != nil {
				m.noteDegraded(c, err)
			}
			if st.IsNearLimit {
				m.sendJSON(c, contextStatusFrame("context_warning", s, st))
			}
		}

		s.clearActive()
		s.setState(StateAuthenticated)
	}()
}

// resolveModels merges per-frame model requests over the configured
// overrides. Frames may list several models per provider; the first one
// wins.
func (m *ConnectionManager) resolveModels(requested map[string][]string) map[providers.Provider]string {
	overrides := make(map[providers.Provider]string, len(m.modelOverrides))
	for p, model := range m.modelOverrides {
		overrides[p] = model
	}
	for name, models := range requested {
		p := providers.Provider(name)
		if !p.IsValid() || len(models) == 0 || models[0] == "" {
			continue
		}
		overrides[p] = models[0]
	}
	return overrides
}

// forwardEvents translates bus events into outbound frames until the
// collaboration completes or the connection closes.
func (m *ConnectionManager) forwardEvents(c *Connection, events <-chan bus.Event, unsubscribe func()) {
	defer unsubscribe()

	// provider|phase pairs that have already produced a token chunk, so
	// the first response frame per stream carries start:true.
	started := make(map[string]bool)

	for {
		var evt bus.Event
		var ok bool
		select {
		case evt, ok = <-events:
			if !ok {
				return
			}
		case <-c.ctx.Done():
			return
		}

		switch evt.Type {
		case bus.EventPhaseStart:
			m.sendJSON(c, map[string]any{
				"type":  "phase_change",
				"phase": evt.Phase,
			})

		case bus.EventAgentThinking:
			m.sendJSON(c, map[string]any{
				"type":   "model_status",
				"target": string(evt.Provider),
				"status": "thinking",
				"phase":  evt.Phase,
			})

		case bus.EventAgentThought:
			key := string(evt.Provider) + "|" + evt.Phase
			frame := map[string]any{
				"type":    "response",
				"target":  string(evt.Provider),
				"content": evt.Payload["text"],
			}
			if !started[key] {
				started[key] = true
				frame["start"] = true
			}
			m.sendJSON(c, frame)

		case bus.EventAgentResponseComplete:
			delete(started, string(evt.Provider)+"|"+evt.Phase)
			m.sendJSON(c, map[string]any{
				"type":   "response",
				"target": string(evt.Provider),
				"end":    true,
			})

		case bus.EventAgentVote:
			m.sendJSON(c, map[string]any{
				"type":     "model_status",
				"target":   string(evt.Provider),
				"status":   "voted",
				"votedFor": evt.Payload["voted_for"],
			})

		case bus.EventAgentRetry:
			m.sendJSON(c, map[string]any{
				"type":    "model_status",
				"target":  string(evt.Provider),
				"status":  "retrying",
				"attempt": evt.Payload["attempt"],
			})

		case bus.EventProgressUpdate:
			frame := map[string]any{"type": "progress_update"}
			for k, v := range evt.Payload {
				frame[k] = v
			}
			m.sendJSON(c, frame)

		case bus.EventCollaborationResult:
			m.sendJSON(c, map[string]any{
				"type":      "response",
				"target":    "collab",
				"content":   evt.Payload["final"],
				"rationale": evt.Payload["rationale"],
				"start":     true,
			})
			m.sendJSON(c, map[string]any{
				"type":   "response",
				"target": "collab",
				"end":    true,
			})
			m.sendJSON(c, map[string]any{
				"type":     "cost_update",
				"totalUsd": evt.Payload["spent_usd"],
			})

		case bus.EventCollaborationComplete:
			frame := map[string]any{
				"type":   "model_status",
				"status": "complete",
			}
			if ms, ok := evt.Payload["elapsed_ms"]; ok {
				frame["elapsedMs"] = ms
			}
			m.sendJSON(c, frame)
			return

		default:
			slog.Debug("Unmapped collaboration event",
				"connection_id", c.ID, "event_type", evt.Type)
		}
	}
}

func containsProvider(ps []providers.Provider, p providers.Provider) bool {
	for _, candidate := range ps {
		if candidate == p {
			return true
		}
	}
	return false
}
