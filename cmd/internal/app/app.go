// Package app wires the ticketpay server runtime: config, logging, stores, payment providers,
// notification delivery, HTTP routes, and the realtime status gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/billing"
	"ticketpay/cmd/internal/fulfillment"
	payapi "ticketpay/cmd/internal/fulfillment/api"
	"ticketpay/cmd/internal/notify"
	"ticketpay/cmd/internal/payment/provider"
	"ticketpay/cmd/internal/ratelimit"
	"ticketpay/cmd/internal/realtime"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the ticketpay runtime: it owns the HTTP server and every long-lived collaborator.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry

	svc      *fulfillment.Service
	payments *payapi.Handler
	ws       *realtime.WSGateway

	notifier notify.Dispatcher
	worker   *notify.Worker
	pruner   *ratelimit.PostgresLimiter
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, stores, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		registry:  prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.wire(stores); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(stores storeSet) error {
	cfg, log := a.cfg, a.log

	metrics, err := fulfillment.NewMetrics(a.registry)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, log)
	if err != nil {
		return err
	}
	if err := a.newNotifier(sender); err != nil {
		return err
	}

	hub := realtime.NewHub(log)

	svc, err := fulfillment.NewService(log,
		fulfillment.Config{Env: cfg.Env, PublicBaseURL: cfg.baseURL()},
		newProviderRegistry(cfg),
		stores.billing,
		stores.profiles,
		fulfillment.WithNotifier(a.notifier),
		fulfillment.WithPublisher(hub),
		fulfillment.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	a.svc = svc

	limiter, err := a.newLimiter()
	if err != nil {
		return err
	}

	apiCfg := payapi.LoadConfigFromEnv()
	apiCfg.PaystackSecret = cfg.PaystackSecretKey
	apiCfg.FlutterwaveHash = cfg.FlutterwaveWebhookHash

	opts := []payapi.HandlerOption{payapi.WithLimiter(limiter)}
	if a.dbEnabled {
		opts = append(opts, payapi.WithAuditPool(a.dbPool, cfg.DBSchema))
	}
	a.payments, err = payapi.NewHandler(log, svc, apiCfg, opts...)
	if err != nil {
		return err
	}

	a.ws = realtime.NewWSGateway(log, hub, svc)

	log.Info("app.wired",
		"env", cfg.Env,
		"db_enabled", a.dbEnabled,
		"dev_bypass", svc.Config().DevBypassEnabled(),
		"notify_queue", cfg.RedisAddr != "",
		"smtp", cfg.smtp().Enabled(),
		"rate_limit_backend", cfg.RateLimitBackend,
	)
	return nil
}

// Service exposes the orchestrator for one-shot commands (reconcile).
func (a *App) Service() *fulfillment.Service { return a.svc }

// Handler returns the routed mux wrapped in the middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, routes{
		dbPool:    a.dbPool,
		dbEnabled: a.dbEnabled,
		gatherer:  a.registry,
		ws:        a.ws,
		payments:  a.payments,
	})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	return WithRequestID(h)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			a.log.Error("notify.worker.start.fail", "err", err)
			return err
		}
	}

	bgCtx, stopBG := context.WithCancel(ctx)
	defer stopBG()
	if a.pruner != nil {
		go a.pruneLoop(bgCtx)
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "env", a.cfg.Env)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}
	stopBG()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.Close(shutdownCtx)

	a.log.Info("server.stopped")
	return runErr
}

// Close drains notifications and releases store resources.
func (a *App) Close(ctx context.Context) {
	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			a.log.Error("notify.close.fail", "err", err)
		}
	}
	if err := a.store.Close(ctx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
}

func (a *App) pruneLoop(ctx context.Context) {
	t := time.NewTicker(nonZeroDuration(a.cfg.RateLimitWindow, time.Minute))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := a.pruner.Prune(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("ratelimit.prune.fail", "err", err)
				}
				continue
			}
			if n > 0 {
				a.log.Debug("ratelimit.prune", "removed", n)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type storeSet struct {
	billing  billing.Store
	profiles identity.Store
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, storeSet, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, storeSet{
			billing:  billing.NewInMemoryStore(),
			profiles: identity.NewInMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, storeSet{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - stores never close it
	billingStore, err := billing.NewPostgresStore(pool, billing.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, storeSet{}, err
	}
	profileStore, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, storeSet{}, err
	}

	return dbStore{pool: pool}, pool, true, storeSet{billing: billingStore, profiles: profileStore}, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func newProviderRegistry(cfg Config) *provider.Registry {
	timeout := provider.WithTimeout(nonZeroDuration(cfg.ProviderTimeout, 15*time.Second))
	return provider.NewRegistry(
		provider.NewPaystack(cfg.PaystackSecretKey, timeout),
		provider.NewFlutterwave(cfg.FlutterwaveSecretKey, timeout),
	)
}

func (c Config) smtp() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	}
}

func newSender(cfg Config, log Logger) (notify.Sender, error) {
	smtpCfg := cfg.smtp()
	if !smtpCfg.Enabled() {
		log.Info("notify.smtp.disabled.log_sender")
		return notify.LogSender{Log: log.With("component", "notify")}, nil
	}
	return notify.NewSMTPSender(smtpCfg)
}

// newNotifier selects Redis-backed delivery when TICKETPAY_REDIS_ADDR is set,
// otherwise an in-process worker pool.
func (a *App) newNotifier(sender notify.Sender) error {
	cfg := a.cfg
	if cfg.RedisAddr != "" {
		redis := asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		a.notifier = notify.NewQueueDispatcher(redis, cfg.NotifyMaxAttempts)
		a.worker = notify.NewWorker(a.log, redis, sender, cfg.NotifyWorkers)
		return nil
	}

	pool, err := notify.NewPool(a.log, sender, notify.PoolConfig{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
		Registerer:  a.registry,
	})
	if err != nil {
		return err
	}
	a.notifier = pool
	return nil
}

func (a *App) newLimiter() (ratelimit.Limiter, error) {
	cfg := a.cfg
	switch cfg.RateLimitBackend {
	case "", "memory":
		return ratelimit.NewMemoryLimiter(cfg.RateLimitLimit, cfg.RateLimitWindow), nil
	case "postgres":
		if !a.dbEnabled {
			return nil, errors.New("ratelimit: postgres backend requires TICKETPAY_DATABASE_URL")
		}
		l, err := ratelimit.NewPostgresLimiter(a.dbPool, cfg.DBSchema, cfg.RateLimitLimit, cfg.RateLimitWindow)
		if err != nil {
			return nil, err
		}
		a.pruner = l
		return l, nil
	case "off", "none":
		a.log.Warn("ratelimit.disabled")
		return ratelimit.Nop{}, nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", cfg.RateLimitBackend)
	}
}
