package signature

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing    = errors.New("webhook secret missing")
	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)
