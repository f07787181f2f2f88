// Package dispatch bounds provider concurrency and manages the cascading
// deadline hierarchy: one cancellation scope per session, one derived
// deadline per provider call.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// DefaultSlotsPerProvider caps in-flight calls per provider so one slow
// back-end cannot starve the others.
const DefaultSlotsPerProvider = 3

// Limiter holds one bounded semaphore per provider. Acquisition is FIFO;
// callers must release via the returned func on every exit path.
type Limiter struct {
	mu    sync.Mutex
	slots int64
	sems  map[providers.Provider]*semaphore.Weighted
}

// NewLimiter creates a Limiter with the given slot count per provider.
// Non-positive counts fall back to DefaultSlotsPerProvider.
func NewLimiter(slotsPerProvider int) *Limiter {
	if slotsPerProvider <= 0 {
		slotsPerProvider = DefaultSlotsPerProvider
	}
	return &Limiter{
		slots: int64(slotsPerProvider),
		sems:  make(map[providers.Provider]*semaphore.Weighted),
	}
}

func (l *Limiter) sem(p providers.Provider) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[p]
	if !ok {
		s = semaphore.NewWeighted(l.slots)
		l.sems[p] = s
	}
	return s
}

// Acquire blocks until a slot for the provider is free or ctx is done.
// The returned release func is idempotent.
func (l *Limiter) Acquire(ctx context.Context, p providers.Provider) (func(), error) {
	s := l.sem(p)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.Release(1) })
	}, nil
}

// TryAcquire takes a slot without blocking. The release func is nil when no
// slot was available.
func (l *Limiter) TryAcquire(p providers.Provider) (func(), bool) {
	s := l.sem(p)
	if !s.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.Release(1) })
	}, true
}
