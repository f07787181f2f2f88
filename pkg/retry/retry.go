// Package retry implements the shared error policy for provider calls:
// retryable/fatal classification, exponential backoff with jitter, and the
// AgentError wrapper that tags failures with provider and phase.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/dispatch"
	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// Policy controls the backoff schedule. Delays follow
// initial * 2^attempt * (1 +/- jitter).
type Policy struct {
	Initial    time.Duration
	MaxRetries int
	Jitter     float64
}

// DefaultPolicy retries twice after the initial call.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		MaxRetries: 2,
		Jitter:     0.2,
	}
}

// AgentError tags a provider-call failure with enough context for the
// workflow to decide whether to continue.
type AgentError struct {
	Provider  providers.Provider
	Phase     string
	Attempt   int
	Retryable bool
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s failed in phase %q (attempt %d): %v", e.Provider, e.Phase, e.Attempt, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// transientMarkers identify retryable upstream failures by message when no
// typed error is available.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"eof",
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
	"temporarily unavailable",
	"service unavailable",
	"internal server error",
}

// Retryable classifies an error. Authentication and budget failures are
// always fatal; session-level cancellation is fatal; transient network and
// upstream 5xx/rate-limit failures are retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Retryable
	}

	if errors.Is(err, budget.ErrCostLimitExceeded) ||
		errors.Is(err, budget.ErrDailyBudgetExceeded) ||
		errors.Is(err, dispatch.ErrDeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, llmclient.ErrNoKey) {
		return false
	}
	var rejected *llmclient.KeyRejectedError
	if errors.As(err, &rejected) {
		return false
	}

	// A single call's deadline is retryable with a fresh one; the caller
	// decides session-level expiry before invoking Retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var unavailable *llmclient.RegistryUnavailableError
	if errors.As(err, &unavailable) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Delay computes the backoff before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.Initial) * float64(int(1)<<attempt)
	spread := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(base * spread)
}

// Do runs fn, retrying retryable failures per the policy. fn receives the
// 0-based attempt number and must derive its own fresh per-call deadline;
// sessionCtx bounds the overall loop including backoff sleeps. onRetry, if
// non-nil, fires before each retry sleep.
func Do(
	sessionCtx context.Context,
	policy Policy,
	p providers.Provider,
	phase string,
	onRetry func(p providers.Provider, attempt int, err error, delay time.Duration),
	fn func(attempt int) error,
) error {
	var lastErr error
	var lastAttempt int
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastAttempt = attempt
		if err := sessionCtx.Err(); err != nil {
			return &AgentError{Provider: p, Phase: phase, Attempt: attempt, Retryable: false, Err: dispatch.AsDeadlineError(err)}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if sessionCtx.Err() != nil || !Retryable(lastErr) || attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		if onRetry != nil {
			onRetry(p, attempt+1, lastErr, delay)
		}
		select {
		case <-time.After(delay):
		case <-sessionCtx.Done():
			return &AgentError{Provider: p, Phase: phase, Attempt: attempt, Retryable: false, Err: dispatch.AsDeadlineError(sessionCtx.Err())}
		}
	}

	return &AgentError{
		Provider:  p,
		Phase:     phase,
		Attempt:   lastAttempt,
		Retryable: Retryable(lastErr) && sessionCtx.Err() == nil,
		Err:       lastErr,
	}
}
