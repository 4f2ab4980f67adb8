// Package ratelimit throttles inbound verification traffic per key (client IP, reference).
//
// MemoryLimiter is process-local and suits single-instance and dev deployments.
// PostgresLimiter keeps counters in a shared table with expiry so every replica
// sees the same budget.
package ratelimit

import (
	"context"
	"time"
)

const (
	defaultLimit  = 30
	defaultWindow = time.Minute
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
	Remaining  int
}

// Limiter admits or rejects an event for key at now.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// Nop admits everything.
type Nop struct{}

func (Nop) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func normalize(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return limit, window
}
