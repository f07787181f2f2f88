// Integration tests for the PostgreSQL-backed stores. Each test gets its
// own migrated schema; locally a shared testcontainer backs them all.
package dbtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/keystore"
	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/test/util"
)

func TestPostgresKeystoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := util.SetupTestDatabase(t)
	store := keystore.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := store.Key(ctx, "alice", providers.Claude)
	assert.ErrorIs(t, err, llmclient.ErrNoKey)

	keyID, err := store.Put(ctx, "alice", providers.Claude, "sk-ant-test")
	require.NoError(t, err)
	assert.NotEmpty(t, keyID)

	key, err := store.Key(ctx, "alice", providers.Claude)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", key)

	// Upsert replaces the key for the same (user, provider).
	_, err = store.Put(ctx, "alice", providers.Claude, "sk-ant-rotated")
	require.NoError(t, err)
	key, err = store.Key(ctx, "alice", providers.Claude)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-rotated", key)

	// Users are isolated.
	_, err = store.Key(ctx, "bob", providers.Claude)
	assert.ErrorIs(t, err, llmclient.ErrNoKey)

	// Invalidated keys stop resolving but remain listed.
	require.NoError(t, store.MarkValidated(ctx, "alice", providers.Claude, false))
	_, err = store.Key(ctx, "alice", providers.Claude)
	assert.ErrorIs(t, err, llmclient.ErrNoKey)

	records, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsValid)

	require.NoError(t, store.Delete(ctx, "alice", providers.Claude))
	records, err = store.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPostgresContextPersisterOrdering(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := util.SetupTestDatabase(t)
	persister := contextstore.NewPostgresPersister(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	msgs := []contextstore.Message{
		{Role: contextstore.RoleUser, Text: "first question", At: now},
		{Role: contextstore.RoleAssistant, Provider: providers.Claude, Text: "first answer", At: now},
		{Role: contextstore.RoleUser, Text: "second question", At: now},
	}
	for _, m := range msgs {
		require.NoError(t, persister.SaveMessage(ctx, "alice", "s1", m))
	}

	loaded, err := persister.LoadMessages(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, m := range loaded {
		assert.Equal(t, msgs[i].Role, m.Role)
		assert.Equal(t, msgs[i].Provider, m.Provider)
		assert.Equal(t, msgs[i].Text, m.Text)
	}

	// Sessions are isolated.
	other, err := persister.LoadMessages(ctx, "alice", "s2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, persister.DeleteMessages(ctx, "alice", "s1"))
	loaded, err = persister.LoadMessages(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestPostgresDailyStoreConcurrentAdds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pool := util.SetupTestDatabase(t)
	store := budget.NewPostgresDailyStore(pool)
	ctx := context.Background()
	day := budget.Today()

	// Concurrent compare-and-add must not lose increments.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := store.Add(ctx, "alice", day, 0.01)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	total, err := store.Total(ctx, "alice", day)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, total, 1e-9)

	// Limits round-trip; zero means unlimited.
	limit, err := store.Limit(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, limit)

	require.NoError(t, store.SetLimit(ctx, "alice", 5))
	limit, err = store.Limit(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, limit, 1e-9)

	assert.NoError(t, budget.EnforceLimit(ctx, store, "alice", 0))
	require.NoError(t, store.SetLimit(ctx, "alice", 0.5))
	assert.ErrorIs(t, budget.EnforceLimit(ctx, store, "alice", 0), budget.ErrDailyBudgetExceeded)
}
