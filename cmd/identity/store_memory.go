package identity

import (
	"context"
	"sync"
)

// InMemoryStore is the dev-only profile store used when no database is configured.
// It enforces the same email and slug uniqueness as the Postgres schema.
type InMemoryStore struct {
	mu      sync.Mutex
	byEmail map[string]Profile
	slugs   map[string]struct{}
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byEmail: make(map[string]Profile),
		slugs:   make(map[string]struct{}),
	}
}

// GetProfileByEmail implements Store.
func (s *InMemoryStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	const op = "identity.GetProfileByEmail"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" {
		return Profile{}, invalidInput(op, "email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byEmail[norm]
	if !ok {
		return Profile{}, NotFoundError{Op: op, Resource: "profile"}
	}
	return p, nil
}

// CreateProfile implements Store.
func (s *InMemoryStore) CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error) {
	const op = "identity.CreateProfile"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	p, err := newProfile(op, in)
	if err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[p.EmailNorm]; ok {
		return Profile{}, ConflictError{Op: op, Field: "email"}
	}
	if _, ok := s.slugs[p.Slug]; ok {
		return Profile{}, ConflictError{Op: op, Field: "slug"}
	}
	s.byEmail[p.EmailNorm] = p
	s.slugs[p.Slug] = struct{}{}
	return p, nil
}

// Len returns the number of stored profiles.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEmail)
}
