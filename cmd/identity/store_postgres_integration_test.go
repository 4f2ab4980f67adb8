package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticketpay/cmd/internal/pgtest"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require TICKETPAY_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateProfile_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s, _ := mustNewProfileStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, err := s.CreateProfile(ctx, CreateProfileInput{
		Email:       "Buyer@Example.com",
		DisplayName: "Buyer One",
		BaseURL:     "https://tickets.example.com",
	})
	if err != nil {
		t.Fatalf("create profile 1: %v", err)
	}

	_, err = s.CreateProfile(ctx, CreateProfileInput{
		Email:       "bUYER@example.COM",
		DisplayName: "Buyer Two",
	})
	if !IsEmailConflict(err) {
		t.Fatalf("expected email conflict, got: %v", err)
	}

	got, err := s.GetProfileByEmail(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("GetProfileByEmail: %v", err)
	}
	if got.ID != first.ID || got.DisplayName != "Buyer One" {
		t.Fatalf("profile mutated: %+v", got)
	}
}

func TestPostgresStore_CreateProfile_ConcurrentSameEmail_SingleRow(t *testing.T) {
	t.Parallel()

	s, pool := mustNewProfileStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateProfile(ctx, CreateProfileInput{Email: "race@example.com", DisplayName: "Race"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case IsEmailConflict(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected one winner, got %d", created)
	}

	var rows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM `+pgIdent(s.schema, "profiles")).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one profile row, got %d", rows)
	}
}

func TestPostgresStore_GetProfileByEmail_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := mustNewProfileStore(t)

	_, err := s.GetProfileByEmail(context.Background(), "missing@example.com")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func mustNewProfileStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()

	pool, schema := pgtest.NewSchema(t, SchemaSQL)

	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s, pool
}
