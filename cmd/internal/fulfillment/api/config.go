package payapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls payment API behavior and security defaults.
type Config struct {
	TrustProxy          bool
	MaxBodyBytes        int64
	MaxWebhookBodyBytes int64

	// PaystackSecret signs Paystack webhooks (same key as the verify API).
	PaystackSecret string
	// FlutterwaveHash is the dashboard "secret hash" echoed in verif-hash.
	FlutterwaveHash string
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
// Webhook secrets are filled in by the runtime from its provider settings.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:          envBool("TICKETPAY_TRUST_PROXY", false),
		MaxBodyBytes:        envInt64("TICKETPAY_API_MAX_BODY_BYTES", 64<<10),
		MaxWebhookBodyBytes: envInt64("TICKETPAY_API_MAX_WEBHOOK_BODY_BYTES", 1<<20),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.MaxWebhookBodyBytes <= 0 {
		c.MaxWebhookBodyBytes = 1 << 20
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
