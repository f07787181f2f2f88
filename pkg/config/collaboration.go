package config

import (
	"time"

	"github.com/codeready-toolchain/quorum/pkg/dispatch"
	"github.com/codeready-toolchain/quorum/pkg/retry"
)

// CollaborationConfig tunes the shared machinery under every collaboration:
// per-provider concurrency, retry backoff and WebSocket liveness.
type CollaborationConfig struct {
	// SlotsPerProvider bounds concurrent in-flight calls per provider.
	SlotsPerProvider int `yaml:"slots_per_provider,omitempty"`

	// RetryInitial is the first backoff delay for transient failures.
	RetryInitial time.Duration `yaml:"retry_initial,omitempty"`

	// RetryMaxAttempts is how many retries follow the initial attempt.
	RetryMaxAttempts int `yaml:"retry_max_attempts,omitempty"`

	// RetryJitter is the +/- fraction applied to each backoff delay.
	RetryJitter float64 `yaml:"retry_jitter,omitempty"`

	// PingInterval is the WebSocket liveness ping cadence.
	PingInterval time.Duration `yaml:"ping_interval,omitempty"`
}

// DefaultCollaborationConfig returns collaboration settings with defaults
// applied.
func DefaultCollaborationConfig() *CollaborationConfig {
	base := retry.DefaultPolicy()
	return &CollaborationConfig{
		SlotsPerProvider: dispatch.DefaultSlotsPerProvider,
		RetryInitial:     base.Initial,
		RetryMaxAttempts: base.MaxRetries,
		RetryJitter:      base.Jitter,
		PingInterval:     30 * time.Second,
	}
}

// RetryPolicy converts the configured backoff settings into a retry policy.
func (c *CollaborationConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		Initial:    c.RetryInitial,
		MaxRetries: c.RetryMaxAttempts,
		Jitter:     c.RetryJitter,
	}
}
