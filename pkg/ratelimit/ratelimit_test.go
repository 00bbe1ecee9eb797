package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, maxBuckets int) (*Limiter, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(maxBuckets)
	l, err := NewLimiter(&Config{Enabled: true, MaxBuckets: maxBuckets}, store)
	require.NoError(t, err)
	return l, store
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 100)
	ctx := context.Background()
	limit := Limit{RequestsPerMinute: 60, Burst: 10}

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, "alice", limit, 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "alice", limit, 1)
	assert.ErrorIs(t, err, ErrLimited)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestRefillOverTime(t *testing.T) {
	store := NewMemoryStore(100)
	base := time.Now()
	store.now = func() time.Time { return base }

	l, err := NewLimiter(&Config{Enabled: true}, store)
	require.NoError(t, err)
	ctx := context.Background()
	limit := Limit{RequestsPerMinute: 60, Burst: 2}

	_, err = l.Allow(ctx, "alice", limit, 2)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "alice", limit, 1)
	assert.ErrorIs(t, err, ErrLimited)

	// One token per second at 60/min.
	base = base.Add(1500 * time.Millisecond)
	d, err := l.Allow(ctx, "alice", limit, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUnlimitedRole(t *testing.T) {
	l, _ := newTestLimiter(t, 100)
	d, err := l.Allow(context.Background(), "admin", Limit{}, 1000)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDisabledLimiter(t *testing.T) {
	store := NewMemoryStore(10)
	l, err := NewLimiter(&Config{Enabled: false}, store)
	require.NoError(t, err)

	d, err := l.Allow(context.Background(), "alice", Limit{RequestsPerMinute: 1}, 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, store.Len(), "disabled limiter must not track buckets")
}

func TestBoundedBucketsEvictStalest(t *testing.T) {
	store := NewMemoryStore(3)
	base := time.Now()
	store.now = func() time.Time { return base }

	l, err := NewLimiter(&Config{Enabled: true, MaxBuckets: 3}, store)
	require.NoError(t, err)
	ctx := context.Background()
	limit := Limit{RequestsPerMinute: 60}

	for i := 0; i < 3; i++ {
		base = base.Add(time.Second)
		_, err := l.Allow(ctx, fmt.Sprintf("agent-%d", i), limit, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len())

	// A fourth identifier evicts agent-0, the stalest bucket.
	base = base.Add(time.Second)
	_, err = l.Allow(ctx, "agent-3", limit, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())

	store.mu.Lock()
	_, evicted := store.buckets["agent-0"]
	store.mu.Unlock()
	assert.False(t, evicted)
}

func TestResetClearsBucket(t *testing.T) {
	l, store := newTestLimiter(t, 100)
	ctx := context.Background()
	limit := Limit{RequestsPerMinute: 60, Burst: 1}

	_, err := l.Allow(ctx, "alice", limit, 1)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "alice", limit, 1)
	assert.ErrorIs(t, err, ErrLimited)

	require.NoError(t, l.Reset(ctx, "alice"))
	assert.Equal(t, 0, store.Len())

	d, err := l.Allow(ctx, "alice", limit, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEmptyIdentifierRejected(t *testing.T) {
	l, _ := newTestLimiter(t, 100)
	_, err := l.Allow(context.Background(), "", Limit{RequestsPerMinute: 60}, 1)
	assert.Error(t, err)
}
