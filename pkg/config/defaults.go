package config

import (
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

const (
	defaultCostCapUSD      = 1.0
	defaultDeadlineSeconds = 300
)

// DefaultsConfig holds the per-session defaults applied when a client does
// not specify its own. Every field can be changed per session over the
// WebSocket protocol.
type DefaultsConfig struct {
	CollabMode          workflow.Mode     `yaml:"collab_mode,omitempty"`
	CollabStyle         prompt.Style      `yaml:"collab_style,omitempty"`
	ContextMode         contextstore.Mode `yaml:"context_mode,omitempty"`
	MaxContextSize      int               `yaml:"max_context_size,omitempty"`
	CostCapUSD          float64           `yaml:"cost_cap_usd,omitempty"`
	DeadlineSeconds     int               `yaml:"deadline_seconds,omitempty"`
	IgnoreFailingModels *bool             `yaml:"ignore_failing_models,omitempty"`

	// DailyCapUSD is the default daily spend limit applied to users with no
	// per-user limit in the store. Zero means unlimited.
	DailyCapUSD float64 `yaml:"daily_cap_usd,omitempty"`
}

// DefaultDefaultsConfig returns the built-in session defaults.
func DefaultDefaultsConfig() *DefaultsConfig {
	ignore := true
	return &DefaultsConfig{
		CollabMode:          workflow.ModeRoundTable,
		CollabStyle:         prompt.StyleBalanced,
		ContextMode:         contextstore.ModeFull,
		MaxContextSize:      contextstore.DefaultMaxSize,
		CostCapUSD:          defaultCostCapUSD,
		DeadlineSeconds:     defaultDeadlineSeconds,
		IgnoreFailingModels: &ignore,
	}
}
