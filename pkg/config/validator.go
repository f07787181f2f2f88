package config

import (
	"fmt"

	"github.com/codeready-toolchain/quorum/pkg/contextstore"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateCollaboration(); err != nil {
		return fmt.Errorf("collaboration validation failed: %w", err)
	}

	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateSystem() error {
	if v.cfg.System.ListenAddr == "" {
		return NewValidationError("system", "system", "listen_addr", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if !d.CollabMode.IsValid() {
		return NewValidationError("defaults", "defaults", "collab_mode", fmt.Errorf("%w: %s", ErrInvalidValue, d.CollabMode))
	}
	if !d.CollabStyle.IsValid() {
		return NewValidationError("defaults", "defaults", "collab_style", fmt.Errorf("%w: %s", ErrInvalidValue, d.CollabStyle))
	}
	if !d.ContextMode.IsValid() {
		return NewValidationError("defaults", "defaults", "context_mode", fmt.Errorf("%w: %s", ErrInvalidValue, d.ContextMode))
	}
	if d.MaxContextSize < contextstore.MinMaxSize {
		return NewValidationError("defaults", "defaults", "max_context_size", fmt.Errorf("must be at least %d", contextstore.MinMaxSize))
	}
	if d.CostCapUSD < 0 {
		return NewValidationError("defaults", "defaults", "cost_cap_usd", fmt.Errorf("must not be negative"))
	}
	if d.DeadlineSeconds < 0 {
		return NewValidationError("defaults", "defaults", "deadline_seconds", fmt.Errorf("must not be negative"))
	}
	if d.DailyCapUSD < 0 {
		return NewValidationError("defaults", "defaults", "daily_cap_usd", fmt.Errorf("must not be negative"))
	}

	return nil
}

func (v *ConfigValidator) validateCollaboration() error {
	c := v.cfg.Collaboration

	if c.SlotsPerProvider < 1 {
		return NewValidationError("collaboration", "collaboration", "slots_per_provider", fmt.Errorf("must be at least 1"))
	}
	if c.RetryInitial <= 0 {
		return NewValidationError("collaboration", "collaboration", "retry_initial", fmt.Errorf("must be positive"))
	}
	if c.RetryMaxAttempts < 0 {
		return NewValidationError("collaboration", "collaboration", "retry_max_attempts", fmt.Errorf("must not be negative"))
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return NewValidationError("collaboration", "collaboration", "retry_jitter", fmt.Errorf("must be in [0, 1)"))
	}
	if c.PingInterval <= 0 {
		return NewValidationError("collaboration", "collaboration", "ping_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateProviders() error {
	for p := range v.cfg.Providers {
		if !p.IsValid() {
			return NewValidationError("provider", string(p), "", fmt.Errorf("%w: unknown provider", ErrInvalidValue))
		}
	}
	return nil
}
