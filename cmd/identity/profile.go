package identity

import (
	"context"
	"time"
)

// Profile is the buyer account provisioned after the first confirmed payment for an email.
// It is never mutated by the payment pipeline after creation.
type Profile struct {
	ID        string
	Email     string
	EmailNorm string

	DisplayName string
	Phone       *string

	Slug      string
	PublicURL string

	Organization *string
	Industry     *string

	CreatedAt time.Time
}

// CreateProfileInput describes a profile provisioning request.
// BaseURL is the public site root used to derive PublicURL ("{BaseURL}/u/{slug}").
type CreateProfileInput struct {
	Email        string
	DisplayName  string
	Phone        *string
	Organization *string
	Industry     *string
	BaseURL      string
	Now          time.Time
}

// Store is the profile persistence boundary.
type Store interface {
	// GetProfileByEmail returns ErrNotFound when no profile exists for the normalized email.
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)

	// CreateProfile inserts a new profile. The insert is authoritative:
	// a duplicate email yields ConflictError{Field: "email"} and never a second row.
	CreateProfile(ctx context.Context, in CreateProfileInput) (Profile, error)
}
