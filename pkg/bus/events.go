// Package bus provides the in-process, session-scoped event channel that
// carries collaboration progress from the workflow engine and streaming
// adapters to the session gateway.
//
// Delivery is at-least-once within the process. Events carry RFC3339Nano
// timestamps that are monotonically non-decreasing per session. High-volume
// token events (agent_thought) are dropped immediately when a subscriber's
// buffer is full; phase and terminal events block the publisher for a
// bounded window and are dropped only if the subscriber stays stalled
// past it.
package bus

import "github.com/codeready-toolchain/quorum/pkg/providers"

// Event types emitted during a collaboration. The gateway translates these
// into outbound WebSocket frames.
const (
	EventPhaseStart            = "phase_start"
	EventAgentThinking         = "agent_thinking"
	EventAgentThought          = "agent_thought"
	EventAgentResponseComplete = "agent_response_complete"
	EventAgentVote             = "agent_vote"
	EventAgentRetry            = "agent_retry"
	EventProgressUpdate        = "progress_update"
	EventCollaborationResult   = "collaboration_result"
	EventCollaborationComplete = "collaboration_complete"
)

// SessionChannel returns the channel name for a session's collaboration
// events. Format: "collab:{session_id}".
func SessionChannel(sessionID string) string {
	return "collab:" + sessionID
}

// Event is one collaboration progress notification.
type Event struct {
	Type      string             `json:"type"`
	Provider  providers.Provider `json:"provider,omitempty"`
	Phase     string             `json:"phase,omitempty"`
	Payload   map[string]any     `json:"payload,omitempty"`
	Timestamp string             `json:"timestamp"` // RFC3339Nano
}

// ProgressPayload is the payload carried by progress_update events.
type ProgressPayload struct {
	Phase       string  `json:"phase"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Percentage  float64 `json:"percentage"`
}

// ProgressMap converts a ProgressPayload into the generic payload map.
func (p ProgressPayload) ProgressMap() map[string]any {
	return map[string]any{
		"phase":       p.Phase,
		"currentStep": p.CurrentStep,
		"totalSteps":  p.TotalSteps,
		"percentage":  p.Percentage,
	}
}
