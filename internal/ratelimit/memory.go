package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory is a single-process Governor. State is kept per provider and each
// provider has its own lock, so callers for different providers never wait
// on each other.
type Memory struct {
	settings Settings
	clock    Clock
	observer WaitObserver

	mu     sync.Mutex // guards states
	states map[string]*providerState
}

type providerState struct {
	mu          sync.Mutex
	timestamps  []time.Time
	tokens      int
	minuteStart time.Time
}

// MemoryOption configures a Memory governor.
type MemoryOption func(*Memory)

// WithClock replaces the wall clock.
func WithClock(c Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// WithObserver records wait durations.
func WithObserver(o WaitObserver) MemoryOption {
	return func(m *Memory) { m.observer = o }
}

// NewMemory creates an in-process governor.
func NewMemory(settings Settings, opts ...MemoryOption) *Memory {
	m := &Memory{
		settings: settings,
		clock:    SystemClock{},
		states:   make(map[string]*providerState),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) state(provider string) *providerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[provider]
	if !ok {
		s = &providerState{}
		m.states[provider] = s
	}
	return s
}

// Acquire blocks until provider has room in both its request window and its
// token budget, then records the request and its estimated token cost.
func (m *Memory) Acquire(ctx context.Context, provider string, tokens int) error {
	limit := m.settings.limitFor(provider)
	window := m.settings.window()
	threshold := m.settings.tokenThreshold(limit)

	s := m.state(provider)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := m.clock.Now()
	for {
		now := m.clock.Now()

		if threshold > 0 {
			minute := now.Truncate(time.Minute)
			if !s.minuteStart.Equal(minute) {
				s.minuteStart = minute
				s.tokens = 0
			}
			if float64(s.tokens) > threshold {
				wait := untilNextMinute(now)
				slog.Warn("token budget threshold reached, waiting for next minute",
					"provider", provider, "tokens", s.tokens, "wait_ms", wait.Milliseconds())
				if err := m.clock.Sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
		}

		if limit.RequestsPerWindow > 0 {
			cutoff := now.Add(-window)
			kept := s.timestamps[:0]
			for _, ts := range s.timestamps {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			s.timestamps = kept

			if len(s.timestamps) >= limit.RequestsPerWindow {
				wait := s.timestamps[0].Add(window).Sub(now)
				slog.Debug("request window full, waiting",
					"provider", provider, "in_window", len(s.timestamps), "wait_ms", wait.Milliseconds())
				if err := m.clock.Sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
			s.timestamps = append(s.timestamps, now)
		}

		if threshold > 0 {
			s.tokens += tokens
		}

		if m.observer != nil {
			m.observer.ObserveGovernorWait(provider, now.Sub(start))
		}
		return nil
	}
}

// Usage reports the current in-window request count and token consumption for provider.
func (m *Memory) Usage(provider string) (requests, tokens int) {
	s := m.state(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timestamps), s.tokens
}
