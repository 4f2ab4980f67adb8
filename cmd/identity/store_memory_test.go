package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestInMemoryStore_CreateThenGet(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	phone := " +2348000000000 "
	org := "Acme"
	p, err := s.CreateProfile(ctx, CreateProfileInput{
		Email:        "Ada@Example.com",
		DisplayName:  "Ada Lovelace",
		Phone:        &phone,
		Organization: &org,
		BaseURL:      "https://tickets.example.com",
	})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if len(p.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", p.ID)
	}
	if p.EmailNorm != "ada@example.com" {
		t.Fatalf("email_norm=%q", p.EmailNorm)
	}
	if p.Phone == nil || *p.Phone != "+2348000000000" {
		t.Fatalf("phone not trimmed: %v", p.Phone)
	}
	if !strings.HasPrefix(p.PublicURL, "https://tickets.example.com/u/ada-lovelace-ada-") {
		t.Fatalf("public_url=%q", p.PublicURL)
	}

	got, err := s.GetProfileByEmail(ctx, "ADA@example.com ")
	if err != nil {
		t.Fatalf("GetProfileByEmail: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("got id %q want %q", got.ID, p.ID)
	}
}

func TestInMemoryStore_DuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateProfile(ctx, CreateProfileInput{Email: "a@x.com", DisplayName: "A"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateProfile(ctx, CreateProfileInput{Email: "A@X.com", DisplayName: "A again"})
	if !IsEmailConflict(err) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected exactly one profile, got %d", s.Len())
	}
}

func TestInMemoryStore_ConcurrentCreateSameEmail_OneWinner(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateProfile(ctx, CreateProfileInput{Email: "race@x.com", DisplayName: "Race"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case IsEmailConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != n-1 {
		t.Fatalf("created=%d conflicts=%d", created, conflicts)
	}
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	_, err := NewInMemoryStore().GetProfileByEmail(context.Background(), "nobody@x.com")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_InvalidEmail(t *testing.T) {
	t.Parallel()

	_, err := NewInMemoryStore().CreateProfile(context.Background(), CreateProfileInput{Email: "not-an-email"})
	if !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
