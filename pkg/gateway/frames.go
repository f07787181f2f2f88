package gateway

import (
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// InboundFrame is the envelope for every client message. Fields beyond Type
// are populated depending on the frame type; unused fields stay zero.
type InboundFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`

	// chat
	Target            string              `json:"target,omitempty"` // provider name or "collab"
	Message           string              `json:"message,omitempty"`
	FilePaths         []string            `json:"filePaths,omitempty"`
	Models            map[string][]string `json:"models,omitempty"`
	CollaborationMode string              `json:"collaborationMode,omitempty"`
	SequentialStyle   string              `json:"sequentialStyle,omitempty"`

	// set_collab_mode / set_collab_style / set_context_mode
	Mode  string `json:"mode,omitempty"`
	Style string `json:"style,omitempty"`

	// set_max_context_size
	Size int `json:"size,omitempty"`

	// set_budget_limit
	LimitUSD float64 `json:"limitUsd,omitempty"`

	// command
	Command string `json:"command,omitempty"`

	// set_api_key / delete_api_key
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// Inbound frame types.
const (
	FrameAuthenticate      = "authenticate"
	FrameChat              = "chat"
	FrameCommand           = "command"
	FrameSetCollabMode     = "set_collab_mode"
	FrameSetCollabStyle    = "set_collab_style"
	FrameCancelCollab      = "cancel_collaboration"
	FrameContextStatus     = "context_status"
	FrameResetContext      = "reset_context"
	FrameTrimContext       = "trim_context"
	FrameSetMaxContextSize = "set_max_context_size"
	FrameSetContextMode    = "set_context_mode"
	FrameGetSessionCost    = "get_session_cost"
	FrameGetDailyCost      = "get_daily_cost"
	FrameSetBudgetLimit    = "set_budget_limit"
	FrameSetAPIKey         = "set_api_key"
	FrameDeleteAPIKey      = "delete_api_key"
	FrameListAPIKeys       = "list_api_keys"
	FramePing              = "ping"
	FrameDebugPing         = "debug_ping"
	FramePong              = "pong"
)

// errorFrame is the single-frame error reply. The connection stays open.
func errorFrame(message string) map[string]any {
	return map[string]any{"type": "error", "message": message}
}

func providerErrorFrame(p providers.Provider, message string) map[string]any {
	return map[string]any{"type": "error", "target": string(p), "message": message}
}
