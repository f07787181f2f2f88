// Package budget enforces the dollar cap on collaborations: per-session
// running cost accounting, pre-flight estimates, and the per-user daily
// spend aggregate.
package budget

import (
	"errors"
	"sync"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// ErrCostLimitExceeded terminates a collaboration. Non-retryable; partial
// results gathered so far are returned to the caller.
var ErrCostLimitExceeded = errors.New("cost limit exceeded")

// Tracker is the per-session cost accumulator. All methods are safe for
// concurrent use; total cost is monotonically non-decreasing.
type Tracker struct {
	sessionID string
	capUSD    float64

	mu           sync.Mutex
	inputTokens  map[providers.Provider]int
	outputTokens map[providers.Provider]int
	totalUSD     float64
}

// NewTracker creates a Tracker with a fixed cap. The cap cannot change for
// the lifetime of the session.
func NewTracker(sessionID string, capUSD float64) *Tracker {
	return &Tracker{
		sessionID:    sessionID,
		capUSD:       capUSD,
		inputTokens:  make(map[providers.Provider]int),
		outputTokens: make(map[providers.Provider]int),
	}
}

// AddInputTokens records prompt tokens for a provider and updates the
// running cost from the fixed price table.
func (t *Tracker) AddInputTokens(p providers.Provider, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTokens[p] += n
	t.totalUSD += providers.PriceFor(p).Cost(n, 0)
}

// AddOutputTokens records completion tokens for a provider.
func (t *Tracker) AddOutputTokens(p providers.Provider, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputTokens[p] += n
	t.totalUSD += providers.PriceFor(p).Cost(0, n)
}

// ShouldAbort reports whether the running cost has reached the cap.
// Called before issuing each provider call and after every streamed chunk.
func (t *Tracker) ShouldAbort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD >= t.capUSD
}

// TotalUSD returns the running cost.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD
}

// CapUSD returns the session cap.
func (t *Tracker) CapUSD() float64 {
	return t.capUSD
}

// SessionID returns the owning session.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Snapshot is a point-in-time copy of the tracker's counters.
type Snapshot struct {
	SessionID    string                     `json:"session_id"`
	TotalUSD     float64                    `json:"total_usd"`
	CapUSD       float64                    `json:"cap_usd"`
	InputTokens  map[providers.Provider]int `json:"input_tokens"`
	OutputTokens map[providers.Provider]int `json:"output_tokens"`
}

// Snapshot returns an independent copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	in := make(map[providers.Provider]int, len(t.inputTokens))
	for p, n := range t.inputTokens {
		in[p] = n
	}
	out := make(map[providers.Provider]int, len(t.outputTokens))
	for p, n := range t.outputTokens {
		out[p] = n
	}
	return Snapshot{
		SessionID:    t.sessionID,
		TotalUSD:     t.totalUSD,
		CapUSD:       t.capUSD,
		InputTokens:  in,
		OutputTokens: out,
	}
}
