package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/riskscan/internal/ratelimit"
	"github.com/kiranshivaraju/riskscan/internal/ratelimit/ratelimittest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)

type recordingObserver struct {
	mu    sync.Mutex
	waits map[string][]time.Duration
}

func (o *recordingObserver) ObserveGovernorWait(provider string, wait time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.waits == nil {
		o.waits = make(map[string][]time.Duration)
	}
	o.waits[provider] = append(o.waits[provider], wait)
}

func TestMemory_WindowAllowsUpToMax(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 3},
	}, ratelimit.WithClock(clock))

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(context.Background(), "openai", 0))
	}
	assert.Empty(t, clock.Sleeps())

	requests, _ := g.Usage("openai")
	assert.Equal(t, 3, requests)
}

func TestMemory_WindowFullWaitsForOldestToExpire(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 2},
	}, ratelimit.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	clock.Advance(10 * time.Second)
	require.NoError(t, g.Acquire(ctx, "openai", 0))
	clock.Advance(5 * time.Second)

	require.NoError(t, g.Acquire(ctx, "openai", 0))

	// The oldest request was 15s ago, so it leaves the window in 45s.
	assert.Equal(t, []time.Duration{45 * time.Second}, clock.Sleeps())
	requests, _ := g.Usage("openai")
	assert.Equal(t, 2, requests)
}

func TestMemory_ProvidersAreIndependent(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	}, ratelimit.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	require.NoError(t, g.Acquire(ctx, "anthropic", 0))
	require.NoError(t, g.Acquire(ctx, "gemini", 0))

	assert.Empty(t, clock.Sleeps())
}

func TestMemory_PerProviderLimitOverridesDefault(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
		Limits:  map[string]ratelimit.Limit{"ollama": {RequestsPerWindow: 5}},
	}, ratelimit.WithClock(clock))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Acquire(ctx, "ollama", 0))
	}
	assert.Empty(t, clock.Sleeps())
}

func TestMemory_TokenBudgetBlocksUntilMinuteRollover(t *testing.T) {
	clock := ratelimittest.NewClock(epoch) // 10s into the minute
	g := ratelimit.NewMemory(ratelimit.Settings{
		WarningThreshold: 0.9,
		Default:          ratelimit.Limit{TokensPerMinute: 1000},
	}, ratelimit.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 950))
	assert.Empty(t, clock.Sleeps(), "first call only records consumption")

	require.NoError(t, g.Acquire(ctx, "openai", 10))
	assert.Equal(t, []time.Duration{50 * time.Second}, clock.Sleeps())

	_, tokens := g.Usage("openai")
	assert.Equal(t, 10, tokens, "counter resets at the minute boundary")
}

func TestMemory_TokenBudgetBelowThresholdDoesNotWait(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		WarningThreshold: 0.9,
		Default:          ratelimit.Limit{TokensPerMinute: 1000},
	}, ratelimit.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 400))
	require.NoError(t, g.Acquire(ctx, "openai", 400))
	require.NoError(t, g.Acquire(ctx, "openai", 400))

	assert.Empty(t, clock.Sleeps())
	_, tokens := g.Usage("openai")
	assert.Equal(t, 1200, tokens)
}

func TestMemory_CancelledContextReturnsError(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	}, ratelimit.WithClock(clock))

	require.NoError(t, g.Acquire(context.Background(), "openai", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Acquire(ctx, "openai", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ObserverReceivesWait(t *testing.T) {
	clock := ratelimittest.NewClock(epoch)
	obs := &recordingObserver{}
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Minute,
		Default: ratelimit.Limit{RequestsPerWindow: 1},
	}, ratelimit.WithClock(clock), ratelimit.WithObserver(obs))
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "openai", 0))
	require.NoError(t, g.Acquire(ctx, "openai", 0))

	assert.Equal(t, []time.Duration{0, time.Minute}, obs.waits["openai"])
}

func TestMemory_ConcurrentCallersNeverExceedWindow(t *testing.T) {
	g := ratelimit.NewMemory(ratelimit.Settings{
		Window:  time.Hour,
		Default: ratelimit.Limit{RequestsPerWindow: 50},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Acquire(ctx, "openai", 1))
		}()
	}
	wg.Wait()

	requests, _ := g.Usage("openai")
	assert.Equal(t, 50, requests)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, ratelimit.EstimateTokens(""))
	assert.Equal(t, 2, ratelimit.EstimateTokens("12345678"))
	assert.Equal(t, 2, ratelimit.EstimateTokens("123456789"))
}

func TestUnlimited(t *testing.T) {
	require.NoError(t, ratelimit.Unlimited{}.Acquire(context.Background(), "any", 1_000_000))
}
