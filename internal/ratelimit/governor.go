// Package ratelimit implements the per-provider request-rate and token-budget
// governor that gates every provider call. The governor never rejects a
// request; it only delays the caller until the request is safe to issue.
package ratelimit

import (
	"context"
	"time"
)

// Governor blocks until one more request to provider is allowed, then records it.
// The only error it returns is the context's.
type Governor interface {
	Acquire(ctx context.Context, provider string, tokens int) error
}

// Limit is the ceiling applied to a single provider. A zero field disables
// that dimension of the limit.
type Limit struct {
	RequestsPerWindow int
	TokensPerMinute   int
}

// Settings is shared by every Governor implementation.
type Settings struct {
	Window           time.Duration
	WarningThreshold float64
	Default          Limit
	Limits           map[string]Limit
}

func (s Settings) limitFor(provider string) Limit {
	if l, ok := s.Limits[provider]; ok {
		return l
	}
	return s.Default
}

func (s Settings) window() time.Duration {
	if s.Window <= 0 {
		return time.Minute
	}
	return s.Window
}

// tokenThreshold is the consumption above which callers wait for the next minute.
func (s Settings) tokenThreshold(l Limit) float64 {
	if l.TokensPerMinute <= 0 {
		return 0
	}
	t := s.WarningThreshold
	if t <= 0 || t > 1 {
		t = 1
	}
	return float64(l.TokensPerMinute) * t
}

// EstimateTokens approximates the token cost of text as one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Clock abstracts time so backoff and window tests do not sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitObserver receives the time a caller spent blocked in the governor.
type WaitObserver interface {
	ObserveGovernorWait(provider string, wait time.Duration)
}

// untilNextMinute returns the time left before the wall-clock minute rolls over.
func untilNextMinute(now time.Time) time.Duration {
	d := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// Unlimited is a Governor that never waits.
type Unlimited struct{}

func (Unlimited) Acquire(ctx context.Context, _ string, _ int) error { return ctx.Err() }
