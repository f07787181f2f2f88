package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

func TestTrackerAccumulatesCost(t *testing.T) {
	tr := NewTracker("s1", 1.0)
	tr.AddInputTokens(providers.ChatGPT, 1000)
	tr.AddOutputTokens(providers.ChatGPT, 1000)

	price := providers.PriceFor(providers.ChatGPT)
	assert.InDelta(t, price.InputPer1K+price.OutputPer1K, tr.TotalUSD(), 1e-9)

	snap := tr.Snapshot()
	assert.Equal(t, 1000, snap.InputTokens[providers.ChatGPT])
	assert.Equal(t, 1000, snap.OutputTokens[providers.ChatGPT])
}

func TestTrackerTotalIsMonotone(t *testing.T) {
	tr := NewTracker("s1", 10)
	prev := 0.0
	for i := 0; i < 50; i++ {
		tr.AddOutputTokens(providers.Claude, 100)
		total := tr.TotalUSD()
		assert.GreaterOrEqual(t, total, prev)
		prev = total
	}
}

func TestTrackerNegativeAndZeroIgnored(t *testing.T) {
	tr := NewTracker("s1", 1)
	tr.AddInputTokens(providers.Claude, 0)
	tr.AddInputTokens(providers.Claude, -5)
	tr.AddOutputTokens(providers.Claude, -5)
	assert.Zero(t, tr.TotalUSD())
}

func TestShouldAbortAtCap(t *testing.T) {
	tr := NewTracker("s1", 0.01)
	assert.False(t, tr.ShouldAbort())

	// Claude output at $0.015/1k: 1000 tokens passes the one-cent cap.
	tr.AddOutputTokens(providers.Claude, 1000)
	assert.True(t, tr.ShouldAbort())
}

func TestTrackerConcurrentAdds(t *testing.T) {
	tr := NewTracker("s1", 1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.AddInputTokens(providers.Gemini, 10)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20*100*10, tr.Snapshot().InputTokens[providers.Gemini])
}

func TestEstimateScalesWithAgentsAndMode(t *testing.T) {
	agents := []providers.Provider{providers.Claude, providers.ChatGPT}

	individual := Estimate(agents, 500, "individual")
	roundTable := Estimate(agents, 500, "round_table")
	assert.Greater(t, roundTable, individual)

	one := Estimate(agents[:1], 500, "round_table")
	assert.Greater(t, roundTable, one)

	assert.Zero(t, Estimate(nil, 500, "round_table"))
}

func TestEstimateUnknownModeIsConservative(t *testing.T) {
	agents := []providers.Provider{providers.Claude}
	known := Estimate(agents, 500, "round_table")
	unknown := Estimate(agents, 500, "no_such_mode")
	assert.Equal(t, known, unknown)
}

func TestMemoryDailyStoreCompareAndAdd(t *testing.T) {
	store := NewMemoryDailyStore()
	ctx := context.Background()
	day := Day("2026-08-25")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := store.Add(ctx, "alice", day, 0.01)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	total, err := store.Total(ctx, "alice", day)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, total, 1e-6)
}

func TestEnforceLimit(t *testing.T) {
	store := NewMemoryDailyStore()
	ctx := context.Background()

	// No limit configured and no default: always allowed.
	require.NoError(t, EnforceLimit(ctx, store, "alice", 0))

	require.NoError(t, store.SetLimit(ctx, "alice", 5))
	_, err := store.Add(ctx, "alice", Today(), 4.99)
	require.NoError(t, err)
	require.NoError(t, EnforceLimit(ctx, store, "alice", 0))

	_, err = store.Add(ctx, "alice", Today(), 0.02)
	require.NoError(t, err)
	assert.ErrorIs(t, EnforceLimit(ctx, store, "alice", 0), ErrDailyBudgetExceeded)
}

func TestEnforceLimitDefaultCap(t *testing.T) {
	store := NewMemoryDailyStore()
	ctx := context.Background()

	// The default cap applies when the user has no stored limit.
	_, err := store.Add(ctx, "bob", Today(), 2.50)
	require.NoError(t, err)
	require.NoError(t, EnforceLimit(ctx, store, "bob", 3))
	assert.ErrorIs(t, EnforceLimit(ctx, store, "bob", 2), ErrDailyBudgetExceeded)

	// A per-user limit overrides the default in either direction.
	require.NoError(t, store.SetLimit(ctx, "bob", 10))
	require.NoError(t, EnforceLimit(ctx, store, "bob", 2))
	require.NoError(t, store.SetLimit(ctx, "bob", 1))
	assert.ErrorIs(t, EnforceLimit(ctx, store, "bob", 100), ErrDailyBudgetExceeded)
}
