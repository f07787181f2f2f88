package budget

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDailyBudgetExceeded rejects new collaborations once a user's daily
// aggregate passes their configured limit.
var ErrDailyBudgetExceeded = errors.New("daily budget exceeded")

// Day is a UTC calendar day in YYYY-MM-DD form.
type Day string

// Today returns the current UTC calendar day.
func Today() Day {
	return Day(time.Now().UTC().Format("2006-01-02"))
}

// DailyStore persists the per-user, per-UTC-day spend aggregate across
// sessions. Add must behave as a compare-and-add: concurrent updates from
// the same user must not lose increments.
type DailyStore interface {
	// Add atomically increments the user's total for the day and returns
	// the new total.
	Add(ctx context.Context, userID string, day Day, usd float64) (float64, error)

	// Total returns the user's spend for the day (zero if absent).
	Total(ctx context.Context, userID string, day Day) (float64, error)

	// SetLimit sets the user's daily cap in USD. Zero disables the cap.
	SetLimit(ctx context.Context, userID string, usd float64) error

	// Limit returns the user's daily cap (zero if unset).
	Limit(ctx context.Context, userID string) (float64, error)
}

// EnforceLimit returns ErrDailyBudgetExceeded when the user's spend for
// today has reached their daily cap. A per-user limit from the store wins;
// defaultCapUSD applies when no per-user limit is set. A zero or negative
// effective cap means unlimited.
func EnforceLimit(ctx context.Context, store DailyStore, userID string, defaultCapUSD float64) error {
	limit, err := store.Limit(ctx, userID)
	if err != nil {
		return err
	}
	if limit <= 0 {
		limit = defaultCapUSD
	}
	if limit <= 0 {
		return nil
	}
	total, err := store.Total(ctx, userID, Today())
	if err != nil {
		return err
	}
	if total >= limit {
		return ErrDailyBudgetExceeded
	}
	return nil
}

// MemoryDailyStore is the in-process DailyStore used in tests and when the
// persistence layer is unavailable (Degraded sessions).
type MemoryDailyStore struct {
	mu     sync.Mutex
	totals map[string]float64 // userID|day → USD
	limits map[string]float64 // userID → USD
}

// NewMemoryDailyStore creates an empty MemoryDailyStore.
func NewMemoryDailyStore() *MemoryDailyStore {
	return &MemoryDailyStore{
		totals: make(map[string]float64),
		limits: make(map[string]float64),
	}
}

func dayKey(userID string, day Day) string {
	return userID + "|" + string(day)
}

// Add implements DailyStore.
func (s *MemoryDailyStore) Add(_ context.Context, userID string, day Day, usd float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[dayKey(userID, day)] += usd
	return s.totals[dayKey(userID, day)], nil
}

// Total implements DailyStore.
func (s *MemoryDailyStore) Total(_ context.Context, userID string, day Day) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[dayKey(userID, day)], nil
}

// SetLimit implements DailyStore.
func (s *MemoryDailyStore) SetLimit(_ context.Context, userID string, usd float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[userID] = usd
	return nil
}

// Limit implements DailyStore.
func (s *MemoryDailyStore) Limit(_ context.Context, userID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits[userID], nil
}
