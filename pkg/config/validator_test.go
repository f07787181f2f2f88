package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

func validConfig() *Config {
	return &Config{
		System:        DefaultSystemConfig(),
		Defaults:      DefaultDefaultsConfig(),
		Collaboration: DefaultCollaborationConfig(),
		Providers:     map[providers.Provider]*ProviderConfig{},
	}
}

func TestValidateAllAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAllRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty listen addr",
			mutate:  func(c *Config) { c.System.ListenAddr = "" },
			wantMsg: "listen_addr",
		},
		{
			name:    "invalid collab mode",
			mutate:  func(c *Config) { c.Defaults.CollabMode = "parliament" },
			wantMsg: "collab_mode",
		},
		{
			name:    "invalid collab style",
			mutate:  func(c *Config) { c.Defaults.CollabStyle = "feisty" },
			wantMsg: "collab_style",
		},
		{
			name:    "invalid context mode",
			mutate:  func(c *Config) { c.Defaults.ContextMode = "infinite" },
			wantMsg: "context_mode",
		},
		{
			name:    "context size below minimum",
			mutate:  func(c *Config) { c.Defaults.MaxContextSize = 500 },
			wantMsg: "max_context_size",
		},
		{
			name:    "negative cost cap",
			mutate:  func(c *Config) { c.Defaults.CostCapUSD = -1 },
			wantMsg: "cost_cap_usd",
		},
		{
			name:    "zero provider slots",
			mutate:  func(c *Config) { c.Collaboration.SlotsPerProvider = 0 },
			wantMsg: "slots_per_provider",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Collaboration.RetryJitter = 1.5 },
			wantMsg: "retry_jitter",
		},
		{
			name:    "non-positive ping interval",
			mutate:  func(c *Config) { c.Collaboration.PingInterval = -time.Second },
			wantMsg: "ping_interval",
		},
		{
			name: "unknown provider key",
			mutate: func(c *Config) {
				c.Providers[providers.Provider("hal9000")] = &ProviderConfig{}
			},
			wantMsg: "hal9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRetryPolicyFromCollaborationConfig(t *testing.T) {
	c := &CollaborationConfig{
		RetryInitial:     500 * time.Millisecond,
		RetryMaxAttempts: 3,
		RetryJitter:      0.1,
	}
	p := c.RetryPolicy()
	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 0.1, p.Jitter)
}
