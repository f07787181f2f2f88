package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	r1, err := l.Acquire(ctx, providers.Claude)
	require.NoError(t, err)
	r2, err := l.Acquire(ctx, providers.Claude)
	require.NoError(t, err)

	_, ok := l.TryAcquire(providers.Claude)
	assert.False(t, ok, "third slot should be unavailable")

	// Other providers have their own slots.
	r3, ok := l.TryAcquire(providers.Gemini)
	require.True(t, ok)
	r3()

	r1()
	r4, ok := l.TryAcquire(providers.Claude)
	assert.True(t, ok, "released slot should be reusable")
	r4()
	r2()
}

func TestLimiterReleaseIdempotent(t *testing.T) {
	l := NewLimiter(1)
	release, err := l.Acquire(context.Background(), providers.Grok)
	require.NoError(t, err)
	release()
	release() // second call must not over-release

	r, ok := l.TryAcquire(providers.Grok)
	require.True(t, ok)
	_, ok = l.TryAcquire(providers.Grok)
	assert.False(t, ok)
	r()
}

func TestLimiterAcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1)
	release, err := l.Acquire(context.Background(), providers.Llama)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, providers.Llama)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterDefaultSlots(t *testing.T) {
	l := NewLimiter(0)
	var releases []func()
	for i := 0; i < DefaultSlotsPerProvider; i++ {
		r, ok := l.TryAcquire(providers.ChatGPT)
		require.True(t, ok)
		releases = append(releases, r)
	}
	_, ok := l.TryAcquire(providers.ChatGPT)
	assert.False(t, ok)
	for _, r := range releases {
		r()
	}
}

func TestScopeChildInheritsSessionDeadline(t *testing.T) {
	scope := NewScope(context.Background(), 1)
	defer scope.Cancel()

	child, cancel := scope.Child(providers.Claude)
	defer cancel()

	deadline, ok := child.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), time.Second)
}

func TestScopeChildCappedByCallTimeout(t *testing.T) {
	scope := NewScope(context.Background(), 3600)
	defer scope.Cancel()

	child, cancel := scope.Child(providers.ChatGPT)
	defer cancel()

	deadline, ok := child.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), defaultCallTimeout)
}

func TestScopeCancelCascades(t *testing.T) {
	scope := NewScope(context.Background(), 60)
	a, cancelA := scope.Child(providers.Claude)
	defer cancelA()
	b, cancelB := scope.Child(providers.Gemini)
	defer cancelB()

	scope.Cancel()
	assert.True(t, scope.Expired())

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("child A not cancelled by session abort")
	}
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("child B not cancelled by session abort")
	}
}

func TestScopeChildCancelDoesNotAffectSiblings(t *testing.T) {
	scope := NewScope(context.Background(), 60)
	defer scope.Cancel()

	_, cancelA := scope.Child(providers.Claude)
	b, cancelB := scope.Child(providers.Gemini)
	defer cancelB()

	cancelA()
	assert.NoError(t, b.Err(), "sibling must stay live after one child aborts")
	assert.False(t, scope.Expired())
}

func TestScopeUnboundedWhenNoDeadline(t *testing.T) {
	scope := NewScope(context.Background(), 0)
	defer scope.Cancel()

	assert.Greater(t, scope.Remaining(), time.Hour)

	child, cancel := scope.Child(providers.Claude)
	defer cancel()
	deadline, ok := child.Deadline()
	require.True(t, ok, "child still gets the per-call ceiling")
	assert.LessOrEqual(t, time.Until(deadline), callTimeout(providers.Claude))
}

func TestAsDeadlineError(t *testing.T) {
	assert.ErrorIs(t, AsDeadlineError(context.DeadlineExceeded), ErrDeadlineExceeded)

	wrapped := errors.New("something else")
	assert.Equal(t, wrapped, AsDeadlineError(wrapped))
	assert.NoError(t, AsDeadlineError(nil))
}
