package app

import (
	"errors"
	"fmt"
	"strings"

	"ticketpay/cmd/internal/fulfillment"
)

// ValidateSecurityConfig enforces the ticketpay security policy at startup.
//
// Notes:
// - Fail-fast: a misconfigured production runtime must not start.
// - The dev completion route is gated on Env at request time; this only rejects unknown environments.
func ValidateSecurityConfig(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Env)) {
	case fulfillment.EnvDevelopment, "staging", "production", "test":
	default:
		return fmt.Errorf("security policy: unknown TICKETPAY_ENV %q", cfg.Env)
	}

	if cfg.CORSAllowCredentials {
		for _, o := range cfg.CORSAllowedOrigins {
			if strings.TrimSpace(o) == "*" {
				return errors.New("security policy: TICKETPAY_CORS_ALLOW_CREDENTIALS=true cannot be combined with origin \"*\"")
			}
		}
	}

	if !cfg.RequireWebhookSecrets {
		return nil
	}

	// Paystack signs webhooks with the API secret, so a configured provider is always covered.
	if cfg.FlutterwaveSecretKey != "" && cfg.FlutterwaveWebhookHash == "" {
		return errors.New("security policy: TICKETPAY_REQUIRE_WEBHOOK_SECRETS=true but TICKETPAY_FLUTTERWAVE_WEBHOOK_HASH is missing")
	}
	if cfg.PaystackSecretKey == "" && cfg.FlutterwaveSecretKey == "" {
		return errors.New("security policy: TICKETPAY_REQUIRE_WEBHOOK_SECRETS=true but no provider is configured")
	}
	return nil
}
