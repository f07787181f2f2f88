package gateway

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/prompt"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

// State is the lifecycle position of one WebSocket session.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateActive        State = "active"
	StateDegraded      State = "degraded"
	StateClosed        State = "closed"
)

// collabSettings are the per-session collaboration knobs, mutable over the
// wire via set_collab_mode and friends.
type collabSettings struct {
	Mode                workflow.Mode
	Style               prompt.Style
	CostCapUSD          float64
	DeadlineSeconds     int
	IgnoreFailingModels bool
}

// session is the authenticated scope of one connection: one user, one
// conversation context, at most one active collaboration at a time.
//
// All fields are accessed from the connection's read loop except
// activeCancel and spentUSD, which the collaboration goroutine also
// touches; those are guarded by mu.
type session struct {
	id     string
	userID string

	context  *contextstore.Context
	settings collabSettings

	mu           sync.Mutex
	state        State
	degraded     bool
	activeCancel context.CancelFunc
	spentUSD     float64
}

// setState moves the session to a new lifecycle state. Degraded is sticky:
// once the persistence layer has failed for this session, transitions to
// Authenticated or Active keep reporting Degraded.
func (s *session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == StateDegraded {
		s.degraded = true
	}
	if s.degraded && (st == StateAuthenticated || st == StateActive) {
		st = StateDegraded
	}
	s.state = st
}

// currentState returns the session state.
func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// isDegraded reports whether persistence has failed for this session.
func (s *session) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// setActive records the cancel func for the running collaboration.
// Returns false when one is already active.
func (s *session) setActive(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCancel != nil {
		return false
	}
	s.activeCancel = cancel
	return true
}

// clearActive drops the active collaboration registration.
func (s *session) clearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCancel = nil
}

// cancelActive aborts the running collaboration, if any.
func (s *session) cancelActive() bool {
	s.mu.Lock()
	cancel := s.activeCancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// addSpend accumulates collaboration cost into the session total.
func (s *session) addSpend(usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spentUSD += usd
}

// spent returns the session's cumulative cost.
func (s *session) spent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spentUSD
}

// authenticated reports whether the session accepts post-auth frames.
func (s *session) authenticated() bool {
	switch s.currentState() {
	case StateAuthenticated, StateActive, StateDegraded:
		return true
	}
	return false
}
