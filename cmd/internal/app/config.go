package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env is the deployment environment. Only "development" exposes the dev completion route.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// PublicBaseURL prefixes generated profile URLs. Empty falls back to the listen address.
	PublicBaseURL string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	PaystackSecretKey    string
	FlutterwaveSecretKey string
	// FlutterwaveWebhookHash is the shared verif-hash configured on the Flutterwave dashboard.
	FlutterwaveWebhookHash string
	ProviderTimeout        time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NotifyWorkers     int
	NotifyQueueSize   int
	NotifyMaxAttempts int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// RateLimitBackend is "memory" or "postgres". Postgres requires a database.
	RateLimitBackend string
	RateLimitLimit   int
	RateLimitWindow  time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Security policy:
	// If true, every configured provider must also have its webhook secret.
	RequireWebhookSecrets bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Env: strings.ToLower(EnvString("TICKETPAY_ENV", "production")),

		HTTPAddr:  EnvString("TICKETPAY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TICKETPAY_LOG_LEVEL", "info"),
		LogFormat: EnvString("TICKETPAY_LOG_FORMAT", "json"),

		PublicBaseURL: EnvString("TICKETPAY_PUBLIC_BASE_URL", ""),

		ReadHeaderTimeout: EnvDuration("TICKETPAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TICKETPAY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TICKETPAY_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("TICKETPAY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("TICKETPAY_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("TICKETPAY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TICKETPAY_DATABASE_URL", ""),
		DBSchema:    EnvString("TICKETPAY_DB_SCHEMA", "ticketpay"),
		DBMaxConns:  EnvInt32("TICKETPAY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TICKETPAY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TICKETPAY_READINESS_REQUIRE_DB", false),

		PaystackSecretKey:      EnvString("TICKETPAY_PAYSTACK_SECRET_KEY", ""),
		FlutterwaveSecretKey:   EnvString("TICKETPAY_FLUTTERWAVE_SECRET_KEY", ""),
		FlutterwaveWebhookHash: EnvString("TICKETPAY_FLUTTERWAVE_WEBHOOK_HASH", ""),
		ProviderTimeout:        EnvDuration("TICKETPAY_PROVIDER_TIMEOUT", 15*time.Second),

		RedisAddr:     EnvString("TICKETPAY_REDIS_ADDR", ""),
		RedisPassword: EnvString("TICKETPAY_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("TICKETPAY_REDIS_DB", 0),

		NotifyWorkers:     EnvInt("TICKETPAY_NOTIFY_WORKERS", 2),
		NotifyQueueSize:   EnvInt("TICKETPAY_NOTIFY_QUEUE_SIZE", 256),
		NotifyMaxAttempts: EnvInt("TICKETPAY_NOTIFY_MAX_ATTEMPTS", 3),

		SMTPHost:     EnvString("TICKETPAY_SMTP_HOST", ""),
		SMTPPort:     EnvInt("TICKETPAY_SMTP_PORT", 587),
		SMTPUsername: EnvString("TICKETPAY_SMTP_USERNAME", ""),
		SMTPPassword: EnvString("TICKETPAY_SMTP_PASSWORD", ""),
		SMTPFrom:     EnvString("TICKETPAY_SMTP_FROM", ""),

		RateLimitBackend: strings.ToLower(EnvString("TICKETPAY_RATE_LIMIT_BACKEND", "memory")),
		RateLimitLimit:   EnvInt("TICKETPAY_RATE_LIMIT", 30),
		RateLimitWindow:  EnvDuration("TICKETPAY_RATE_LIMIT_WINDOW", time.Minute),

		CORSAllowedOrigins:   EnvCSV("TICKETPAY_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("TICKETPAY_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TICKETPAY_CORS_MAX_AGE_SECONDS", 600),

		RequireWebhookSecrets: EnvBool("TICKETPAY_REQUIRE_WEBHOOK_SECRETS", false),
	}
}

// baseURL returns the public base URL, deriving one from the listen address when unset.
func (c Config) baseURL() string {
	if u := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/"); u != "" {
		return u
	}
	return runtimeBaseURL(c.HTTPAddr)
}
