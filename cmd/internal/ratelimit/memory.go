package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery controls how often idle keys are evicted (in Allow calls).
const sweepEvery = 1024

// MemoryLimiter is a per-key sliding-window limiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	keys   map[string][]time.Time
	limit  int
	window time.Duration
	calls  int
}

// NewMemoryLimiter constructs a MemoryLimiter with safe defaults when inputs are invalid.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	limit, window = normalize(limit, window)
	return &MemoryLimiter{
		keys:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
func (m *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	cut := now.Add(-m.window)
	events := m.keys[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= m.limit {
		m.keys[key] = dst
		return Decision{Allowed: false, RetryAfter: dst[0].Add(m.window).Sub(now)}, nil
	}
	dst = append(dst, now)
	m.keys[key] = dst
	return Decision{Allowed: true, Remaining: m.limit - len(dst)}, nil
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func (m *MemoryLimiter) sweepLocked(now time.Time) {
	cut := now.Add(-m.window)
	for k, events := range m.keys {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(m.keys, k)
		}
	}
}
