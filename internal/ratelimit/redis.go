package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/riskscan/internal/cache"
)

// acquireScript checks the token budget and the sliding request window in
// one round trip. It returns 0 when the request was recorded, otherwise the
// number of milliseconds the caller should wait before trying again.
//
// KEYS[1] request window (sorted set scored by ms timestamp)
// KEYS[2] token counter for the current minute
// ARGV: now_ms, window_ms, max_requests, member, cost, token_threshold, until_next_minute_ms
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local maxReq = tonumber(ARGV[3])
local threshold = tonumber(ARGV[6])

if threshold > 0 then
  local used = tonumber(redis.call('GET', KEYS[2]) or '0')
  if used > threshold then
    return tonumber(ARGV[7])
  end
end

if maxReq > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
  if redis.call('ZCARD', KEYS[1]) >= maxReq then
    local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
    local wait = tonumber(oldest[2]) + window - now
    if wait < 1 then
      wait = 1
    end
    return wait
  end
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
end

if threshold > 0 then
  redis.call('INCRBY', KEYS[2], ARGV[5])
  redis.call('PEXPIRE', KEYS[2], 120000)
end
return 0
`)

// Redis is a Governor whose counters live in Redis so that several worker
// processes share one budget per provider.
type Redis struct {
	client   redis.UniversalClient
	settings Settings
	clock    Clock
	observer WaitObserver
}

// RedisOption configures a Redis governor.
type RedisOption func(*Redis)

// WithRedisClock replaces the wall clock.
func WithRedisClock(c Clock) RedisOption {
	return func(r *Redis) { r.clock = c }
}

// WithRedisObserver records wait durations.
func WithRedisObserver(o WaitObserver) RedisOption {
	return func(r *Redis) { r.observer = o }
}

// NewRedis creates a Redis-backed governor.
func NewRedis(client redis.UniversalClient, settings Settings, opts ...RedisOption) *Redis {
	r := &Redis{client: client, settings: settings, clock: SystemClock{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Acquire blocks until the shared window and token budget allow one more
// request to provider.
func (r *Redis) Acquire(ctx context.Context, provider string, tokens int) error {
	limit := r.settings.limitFor(provider)
	window := r.settings.window()
	threshold := r.settings.tokenThreshold(limit)

	start := r.clock.Now()
	for {
		now := r.clock.Now()
		keys := []string{
			cache.GovernorWindowKey(provider),
			cache.GovernorTokenKey(provider, now.Truncate(time.Minute).Unix()),
		}
		args := []any{
			now.UnixMilli(),
			window.Milliseconds(),
			limit.RequestsPerWindow,
			strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString(),
			tokens,
			threshold,
			untilNextMinute(now).Milliseconds(),
		}

		waitMs, err := acquireScript.Run(ctx, r.client, keys, args...).Int64()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// Fail open when the store is unreachable.
			slog.Error("rate governor store unavailable, allowing request", "provider", provider, "error", err)
			return nil
		}
		if waitMs == 0 {
			if r.observer != nil {
				r.observer.ObserveGovernorWait(provider, now.Sub(start))
			}
			return nil
		}

		slog.Debug("rate governor delaying request", "provider", provider, "wait_ms", waitMs)
		if err := r.clock.Sleep(ctx, time.Duration(waitMs)*time.Millisecond); err != nil {
			return err
		}
	}
}
