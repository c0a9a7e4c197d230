package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func testCache(t *testing.T) (*WeightsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWeightsCache(client, time.Minute, nil), mr
}

func TestWeightsCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, _ := testCache(t)

	// Empty cache misses cleanly.
	w, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, w)

	saved := types.DefaultRouterWeights()
	saved.Version = 4
	require.NoError(t, cache.Set(ctx, saved))

	loaded, err := cache.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, 4, loaded.Version)
	require.InDelta(t, 0.80, loaded.ByTier[types.TierShock][types.SignalCriticality], 1e-9)

	require.NoError(t, cache.Invalidate(ctx))
	loaded, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestWeightsCacheCorruptEntryIsAMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, mr := testCache(t)

	require.NoError(t, mr.Set("memflow:router_weights:latest", "{not json"))

	w, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, w)

	// Structurally valid JSON that fails validation is also a miss.
	require.NoError(t, mr.Set("memflow:router_weights:latest", `{"version":0,"by_tier":{}}`))
	w, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, w)
}

func TestWeightsCacheNilClientIsSafe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := NewWeightsCache(nil, time.Minute, nil)

	w, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, w)
	require.NoError(t, cache.Set(ctx, types.DefaultRouterWeights()))
	require.NoError(t, cache.Invalidate(ctx))
}
