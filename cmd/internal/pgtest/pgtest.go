// Package pgtest holds helpers for opt-in Postgres integration tests.
//
// Tests call NewSchema to get a pool and a throwaway schema with DDL applied.
// TICKETPAY_DATABASE_URL must be set; otherwise the test is skipped. Outside CI,
// an unreachable database also skips instead of failing.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"ticketpay/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable holding the integration database DSN.
const EnvDatabaseURL = "TICKETPAY_DATABASE_URL"

// NewSchema opens a pool, creates a unique schema and applies ddl(schema).
// Both are torn down via t.Cleanup.
func NewSchema(t testing.TB, ddl ...func(schema string) string) (*pgxpool.Pool, string) {
	t.Helper()

	pool := OpenPool(t)
	t.Cleanup(pool.Close)

	schema := CreateSchema(t, pool)
	t.Cleanup(func() { DropSchema(pool, schema) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	for _, fn := range ddl {
		if _, err := pool.Exec(ctx, fn(schema)); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return pool, schema
}

// OpenPool connects to TICKETPAY_DATABASE_URL or skips the test.
func OpenPool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

// CreateSchema creates a uniquely named schema.
func CreateSchema(t testing.TB, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "tp_it_" + strings.ToLower(ids.MustULID(time.Now().UTC()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

// DropSchema removes schema and everything in it. Errors are ignored.
func DropSchema(pool *pgxpool.Pool, schema string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// ShouldSkip reports whether err looks like an unreachable database on a dev machine.
func ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
