package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedThing struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newTestCache(t *testing.T, opts ...MemoryOption) (*MemoryCache, *time.Time) {
	t.Helper()
	mc := NewMemoryCache(append([]MemoryOption{WithMemoryCleanup(0)}, opts...)...)
	t.Cleanup(func() { _ = mc.Close() })
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	return mc, &now
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	mc, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "thing:1", cachedThing{Name: "a", Score: 0.5}, time.Minute))

	var got cachedThing
	require.NoError(t, mc.Get(ctx, "thing:1", &got))
	assert.Equal(t, cachedThing{Name: "a", Score: 0.5}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, "thing:1", &raw))
	assert.JSONEq(t, `{"name":"a","score":0.5}`, raw)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc, now := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	*now = now.Add(time.Minute)

	var got string
	assert.ErrorIs(t, mc.Get(ctx, "k", &got), ErrCacheMiss)
	assert.Zero(t, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc, _ := newTestCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &v))
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc, now := newTestCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock:backfill", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock:backfill", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var v string
	assert.ErrorIs(t, mc.Get(ctx, "lock:backfill", &v), ErrCacheMiss, "leases are not values")

	require.NoError(t, mc.Unlock(ctx, "lock:backfill"))
	ok, err = mc.TryLock(ctx, "lock:backfill", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(2 * time.Minute)
	ok, err = mc.TryLock(ctx, "lock:backfill", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease can be taken again")
}

func TestUnlockLeavesValuesAlone(t *testing.T) {
	mc, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, mc.Unlock(ctx, "k"))

	var v string
	require.NoError(t, mc.Get(ctx, "k", &v))
	assert.Equal(t, "v", v)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "embedding:openai:abc", Key("embedding", "openai", "abc"))
	assert.Equal(t, HashKey("same text"), HashKey("same text"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}
