package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type batchKey string

type batch struct {
	Worker   int
	Messages [][]byte
}

func newBatchCache() *InMemoryCacheManager[batchKey, batch] {
	return NewInMemoryCacheManager[batchKey, batch]("batches", DefaultExpiration, DefaultCleanupInterval)
}

func TestInMemoryCacheManager_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := newBatchCache()
	b := batch{Worker: 1, Messages: [][]byte{[]byte(`{"1":[0]}`)}}

	cache.Set(ctx, "run/1", b, DefaultExpiration)

	got, ok := cache.Get(ctx, "run/1")
	require.True(t, ok)
	require.Equal(t, b, got)
	require.Equal(t, 1, cache.Count())
}

func TestInMemoryCacheManager_Miss(t *testing.T) {
	got, ok := newBatchCache().Get(context.Background(), "run/9")
	require.False(t, ok)
	require.Zero(t, got)
}

func TestInMemoryCacheManager_WrongStoredType(t *testing.T) {
	cache := newBatchCache()
	cache.cache.Set("run/1", 123, DefaultExpiration)

	_, ok := cache.Get(context.Background(), "run/1")
	require.False(t, ok)
}

func TestInMemoryCacheManager_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := newBatchCache()
	cache.Set(ctx, "run/1", batch{Worker: 1}, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, "run/1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_GetWithRefresh(t *testing.T) {
	ctx := context.Background()
	cache := newBatchCache()

	_, ok := cache.GetWithRefresh(ctx, "run/1", time.Hour)
	require.False(t, ok)

	cache.Set(ctx, "run/1", batch{Worker: 1}, 30*time.Millisecond)
	_, ok = cache.GetWithRefresh(ctx, "run/1", time.Hour)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = cache.Get(ctx, "run/1")
	require.True(t, ok, "refresh extended the ttl")
}

func TestInMemoryCacheManager_GetMultiple(t *testing.T) {
	ctx := context.Background()
	cache := newBatchCache()

	got, ok := cache.GetMultiple(ctx, nil)
	require.False(t, ok)
	require.Nil(t, got)

	got, ok = cache.GetMultiple(ctx, []batchKey{"a", "b"})
	require.False(t, ok)
	require.Nil(t, got)

	cache.Set(ctx, "a", batch{Worker: 0}, DefaultExpiration)
	cache.Set(ctx, "b", batch{Worker: 1}, DefaultExpiration)

	got, ok = cache.GetMultiple(ctx, []batchKey{"a", "b", "missing"})
	require.True(t, ok)
	require.Equal(t, map[batchKey]batch{"a": {Worker: 0}, "b": {Worker: 1}}, got)
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := newBatchCache()
	cache.Set(ctx, "a", batch{}, NoExpiration)
	cache.Set(ctx, "b", batch{}, NoExpiration)
	cache.Set(ctx, "c", batch{}, NoExpiration)

	require.NoError(t, cache.Delete(ctx))
	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, 2, cache.Count())

	require.NoError(t, cache.Flush(ctx))
	require.Zero(t, cache.Count())
}
