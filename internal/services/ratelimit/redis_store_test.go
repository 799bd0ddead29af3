package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), server
}

func TestRedisStore_Increment(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	tt := []struct {
		desc            string
		runs            int
		ceiling         int
		wantCount       int
		wantIncremented bool
	}{
		{desc: "counts up to the ceiling", runs: 3, ceiling: 3, wantCount: 3, wantIncremented: true},
		{desc: "stops at the ceiling", runs: 4, ceiling: 3, wantCount: 3, wantIncremented: false},
		{desc: "no ceiling counts every call", runs: 7, ceiling: 0, wantCount: 7, wantIncremented: true},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			server.FlushAll()

			var entry *models.RateLimitEntry
			var incremented bool
			var err error
			for i := 0; i < ts.runs; i++ {
				entry, incremented, err = store.Increment(ctx, "login:u1", 5*time.Minute, ts.ceiling, now)
				require.NoError(t, err)
			}

			assert.Equal(t, ts.wantCount, entry.Count)
			assert.Equal(t, ts.wantIncremented, incremented)
			assert.Equal(t, now.Add(5*time.Minute), entry.ResetTime)
			assert.Equal(t, 5*time.Minute, server.TTL("ratelimit:login:u1"))
		})
	}
}

func TestRedisStore_GetExpires(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)
	now := time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

	entry, err := store.Get(ctx, "prayer:u1", now)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, _, err = store.Increment(ctx, "prayer:u1", time.Hour, 0, now)
	require.NoError(t, err)

	server.FastForward(10 * time.Minute)
	now = now.Add(10 * time.Minute)

	entry, err = store.Get(ctx, "prayer:u1", now)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Count)
	assert.Equal(t, now.Add(50*time.Minute), entry.ResetTime)

	server.FastForward(time.Hour)
	entry, err = store.Get(ctx, "prayer:u1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisStore_Stats(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	now := time.Now()
	limits := map[models.ActionType]models.RateLimitConfig{
		models.ActionLogin:  {MaxRequests: 2, Window: time.Minute},
		models.ActionPrayer: {MaxRequests: 5, Window: time.Minute},
	}

	for i := 0; i < 2; i++ {
		_, _, err := store.Increment(ctx, "login:u1", time.Minute, 0, now)
		require.NoError(t, err)
	}
	_, _, err := store.Increment(ctx, "prayer:u1", time.Minute, 0, now)
	require.NoError(t, err)
	_, _, err = store.Increment(ctx, "prayer:u2", time.Minute, 0, now)
	require.NoError(t, err)

	stats, err := store.Stats(ctx, limits, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ActiveKeys)
	assert.Equal(t, 1, stats.LimitedKeys)
	assert.Equal(t, 2, stats.KeysPerAction["prayer"])
}

func TestLimiter_SharedRedisStore(t *testing.T) {
	ctx := context.Background()
	store, server := newRedisStore(t)
	clock := newFakeClock()

	// two instances share one store
	first := newTestLimiter(t, store, clock, nil)
	second := newTestLimiter(t, store, clock, nil)

	for i := 0; i < 3; i++ {
		res, err := first.Consume(ctx, "u1", models.ActionLogin)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	for i := 0; i < 2; i++ {
		res, err := second.Consume(ctx, "u1", models.ActionLogin)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := second.Consume(ctx, "u1", models.ActionLogin)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// the first instance is limited by the shared counter too
	res, err = first.Consume(ctx, "u1", models.ActionLogin)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// a third instance with an empty memory tier reads the store
	third := newTestLimiter(t, store, clock, nil)
	res, err = third.CheckRateLimit(ctx, "u1", models.ActionLogin, nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	server.FastForward(5 * time.Minute)
	clock.Advance(5 * time.Minute)

	res, err = first.CheckRateLimit(ctx, "u1", models.ActionLogin, nil)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Remaining)

	require.NoError(t, first.ResetRateLimit(ctx, "u1", models.ActionLogin))
	assert.False(t, server.Exists("ratelimit:login:u1"))
}
