package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// ErrDeadlineExceeded marks a session-level timeout abort. It is distinct
// from a cost abort so the workflow can word the final result correctly.
var ErrDeadlineExceeded = errors.New("collaboration deadline exceeded")

// defaultCallTimeout bounds a single provider call when the session has more
// time left than one call should ever take.
const defaultCallTimeout = 120 * time.Second

// callTimeouts overrides the per-call ceiling for providers whose back-ends
// are known to run long on big completions.
var callTimeouts = map[providers.Provider]time.Duration{
	providers.Claude:   180 * time.Second,
	providers.DeepSeek: 180 * time.Second,
}

func callTimeout(p providers.Provider) time.Duration {
	if d, ok := callTimeouts[p]; ok {
		return d
	}
	return defaultCallTimeout
}

// Scope is the session-wide cancellation source for one collaboration.
// Every provider call derives a child context from it; cancelling the scope
// cancels all children, while a child timing out never affects siblings.
type Scope struct {
	ctx      context.Context
	cancel   context.CancelFunc
	deadline time.Time
}

// NewScope creates a collaboration scope bounded by maxSeconds. A
// non-positive maxSeconds yields a scope with no deadline (cancellable
// only).
func NewScope(parent context.Context, maxSeconds int) *Scope {
	if maxSeconds <= 0 {
		ctx, cancel := context.WithCancel(parent)
		return &Scope{ctx: ctx, cancel: cancel}
	}
	deadline := time.Now().Add(time.Duration(maxSeconds) * time.Second)
	ctx, cancel := context.WithDeadline(parent, deadline)
	return &Scope{ctx: ctx, cancel: cancel, deadline: deadline}
}

// Context returns the session-level context.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Cancel aborts the whole collaboration, cascading to all child calls.
func (s *Scope) Cancel() {
	s.cancel()
}

// Remaining reports time left before the session deadline, or a large
// positive value when the scope has none.
func (s *Scope) Remaining() time.Duration {
	if s.deadline.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Until(s.deadline)
}

// Expired reports whether the session deadline has passed or the scope was
// cancelled.
func (s *Scope) Expired() bool {
	return s.ctx.Err() != nil
}

// Child derives the context for one provider call: its deadline is the
// smaller of the remaining session budget and the provider's per-call
// ceiling. The returned cancel must be called on every exit path.
func (s *Scope) Child(p providers.Provider) (context.Context, context.CancelFunc) {
	limit := callTimeout(p)
	if !s.deadline.IsZero() {
		if remaining := time.Until(s.deadline); remaining < limit {
			limit = remaining
		}
	}
	return context.WithTimeout(s.ctx, limit)
}

// AsDeadlineError maps a context error from scope or child into
// ErrDeadlineExceeded, passing any other error through unchanged.
func AsDeadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDeadlineExceeded
	}
	return err
}
