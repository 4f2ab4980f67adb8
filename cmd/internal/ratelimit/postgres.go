package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresLimiter is a fixed-window limiter backed by a shared counters table.
// Rows expire after their window; Prune removes them.
type PostgresLimiter struct {
	pool   *pgxpool.Pool
	schema string
	limit  int
	window time.Duration
}

// NewPostgresLimiter constructs a PostgresLimiter over schema.rate_counters.
func NewPostgresLimiter(pool *pgxpool.Pool, schema string, limit int, window time.Duration) (*PostgresLimiter, error) {
	if pool == nil {
		return nil, fmt.Errorf("ratelimit: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "ticketpay"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("ratelimit: invalid schema identifier")
	}
	limit, window = normalize(limit, window)
	return &PostgresLimiter{pool: pool, schema: schema, limit: limit, window: window}, nil
}

func (l *PostgresLimiter) table() string {
	return pgx.Identifier{l.schema, "rate_counters"}.Sanitize()
}

// Allow increments the counter for key in the window containing now.
func (l *PostgresLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.UTC().Truncate(l.window)
	end := start.Add(l.window)

	var count int
	err := l.pool.QueryRow(ctx, `
		INSERT INTO `+l.table()+` (key, window_start, count, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key, window_start) DO UPDATE SET count = `+l.table()+`.count + 1
		RETURNING count
	`, key, start, end).Scan(&count)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: increment: %w", err)
	}

	if count > l.limit {
		return Decision{Allowed: false, RetryAfter: end.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}

// Prune deletes expired counter rows and returns how many were removed.
func (l *PostgresLimiter) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM `+l.table()+` WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("ratelimit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SchemaSQL returns the counters DDL for schema.
func SchemaSQL(schema string) string {
	t := pgx.Identifier{schema, "rate_counters"}.Sanitize()
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  key TEXT NOT NULL,
  window_start TIMESTAMPTZ NOT NULL,
  count INTEGER NOT NULL DEFAULT 0,
  expires_at TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (key, window_start)
);

CREATE INDEX IF NOT EXISTS idx_rate_counters_expires_at ON %[1]s (expires_at);
`, t)
}
