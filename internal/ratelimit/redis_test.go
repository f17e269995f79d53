package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/riskscan/internal/cache"
	"github.com/kiranshivaraju/riskscan/internal/ratelimit"
	"github.com/kiranshivaraju/riskscan/internal/ratelimit/ratelimittest"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedis_WindowFullWaitsForOldestToExpire(t *testing.T) {
	client, _ := setupTestRedis(t)
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewRedis(client, ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 2},
	}, ratelimit.WithRedisClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	clock.Advance(20 * time.Second)
	require.NoError(t, g.Acquire(ctx, "openai", 0))
	assert.Empty(t, clock.Sleeps())

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	assert.Equal(t, []time.Duration{40 * time.Second}, clock.Sleeps())

	n, err := client.ZCard(ctx, cache.GovernorWindowKey("openai")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedis_SharedAcrossInstances(t *testing.T) {
	client, _ := setupTestRedis(t)
	clock := ratelimittest.NewClock(epoch)
	settings := ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	}
	a := ratelimit.NewRedis(client, settings, ratelimit.WithRedisClock(clock))
	b := ratelimit.NewRedis(client, settings, ratelimit.WithRedisClock(clock))
	ctx := context.Background()

	require.NoError(t, a.Acquire(ctx, "anthropic", 0))
	require.NoError(t, b.Acquire(ctx, "anthropic", 0))

	assert.Equal(t, []time.Duration{time.Minute}, clock.Sleeps(), "second instance sees the first instance's request")
}

func TestRedis_TokenBudget(t *testing.T) {
	client, _ := setupTestRedis(t)
	clock := ratelimittest.NewClock(epoch) // 10s into the minute
	g := ratelimit.NewRedis(client, ratelimit.Settings{
		WarningThreshold: 0.5,
		Default:          ratelimit.Limit{TokensPerMinute: 100},
	}, ratelimit.WithRedisClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "gemini", 60))
	require.NoError(t, g.Acquire(ctx, "gemini", 5))

	assert.Equal(t, []time.Duration{50 * time.Second}, clock.Sleeps())

	next := clock.Now().Truncate(time.Minute).Unix()
	used, err := client.Get(ctx, cache.GovernorTokenKey("gemini", next)).Int()
	require.NoError(t, err)
	assert.Equal(t, 5, used)
}

func TestRedis_ProvidersAreIndependent(t *testing.T) {
	client, _ := setupTestRedis(t)
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewRedis(client, ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	}, ratelimit.WithRedisClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	require.NoError(t, g.Acquire(ctx, "ollama", 0))
	assert.Empty(t, clock.Sleeps())
}

func TestRedis_FailsOpenWhenStoreUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	g := ratelimit.NewRedis(client, ratelimit.Settings{
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	})
	mr.Close()

	err := g.Acquire(context.Background(), "openai", 0)
	assert.NoError(t, err)
}
