package identity

import (
	"errors"
	"fmt"
)

// Store errors wrap exactly one of these kinds.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
)

// ConflictError is a uniqueness violation on one logical field ("email", "slug" or "unique").
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string { return joinErr(e.Op, ErrConflict, e.Field) }
func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row of Resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string { return joinErr(e.Op, ErrNotFound, e.Resource) }
func (e NotFoundError) Unwrap() error { return ErrNotFound }

func invalidInput(op, msg string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrInvalidInput, msg)
}

func joinErr(op string, kind error, detail string) string {
	if detail == "" {
		return op + ": " + kind.Error()
	}
	return op + ": " + kind.Error() + ": " + detail
}

// IsEmailConflict reports whether err is a uniqueness conflict on the profile email.
// Profile creation treats it as "already registered" rather than a failure.
func IsEmailConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce) && ce.Field == "email"
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
