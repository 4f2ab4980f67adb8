package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/billing"
	"ticketpay/cmd/internal/notify"
	"ticketpay/cmd/internal/payment/provider"

	"golang.org/x/sync/singleflight"
)

const (
	// EnvDevelopment is the only environment where the dev bypass is reachable.
	EnvDevelopment = "development"

	notifyEnqueueTimeout = 3 * time.Second
)

// Config holds orchestrator settings.
type Config struct {
	// Env is the deployment environment; only "development" enables Complete.
	Env string
	// PublicBaseURL prefixes generated profile URLs.
	PublicBaseURL string
}

// DevBypassEnabled reports whether Complete is reachable.
func (c Config) DevBypassEnabled() bool {
	return c.Env == EnvDevelopment
}

// Service orchestrates payment verification and fulfillment.
type Service struct {
	log *slog.Logger
	cfg Config

	providers *provider.Registry
	billing   billing.Store
	profiles  identity.Store

	notifier  notify.Dispatcher
	publisher StatusPublisher
	metrics   *Metrics
	now       func() time.Time

	live singleflight.Group
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithNotifier sets the email dispatcher. Without one, notifications are skipped.
func WithNotifier(d notify.Dispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.notifier = d
		}
	}
}

// WithPublisher sets the realtime status publisher.
func WithPublisher(p StatusPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, cfg Config, providers *provider.Registry, billingStore billing.Store, profiles identity.Store, opts ...Option) (*Service, error) {
	if providers == nil {
		return nil, errors.New("fulfillment: nil provider registry")
	}
	if billingStore == nil {
		return nil, errors.New("fulfillment: nil billing store")
	}
	if profiles == nil {
		return nil, errors.New("fulfillment: nil profile store")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		log:       log,
		cfg:       cfg,
		providers: providers,
		billing:   billingStore,
		profiles:  profiles,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Verify runs the full verification pipeline for one reference.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Outcome, error) {
	req = req.normalized()

	if req.Reference == "" {
		s.metrics.verifications.WithLabelValues(req.Provider, outcomeInvalid).Inc()
		return Outcome{}, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	p, err := s.providers.Lookup(req.Provider)
	if err != nil {
		s.metrics.verifications.WithLabelValues("unknown", outcomeInvalid).Inc()
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !p.IsConfigured() {
		s.metrics.verifications.WithLabelValues(p.Name(), outcomeNotConfigured).Inc()
		s.log.Error("payments.verify.provider_not_configured", "provider", p.Name())
		return Outcome{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, p.Name())
	}

	// A validated request runs to completion even if the caller goes away; the
	// provider timeout bounds the gateway call.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	res, err := p.Verify(ctx, req.Reference, req.TransactionID)
	s.metrics.providerLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.verifications.WithLabelValues(p.Name(), outcomeProviderError).Inc()
		s.log.Error("payments.verify.provider.fail", "provider", p.Name(), "reference", req.Reference, "err", err)
		if !errors.Is(err, ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return Outcome{}, err
	}

	res.Provider = p.Name()
	if res.Reference == "" {
		res.Reference = req.Reference
	}
	res.Success = res.Status == provider.StatusSuccessful
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}

	if !res.Success {
		s.metrics.verifications.WithLabelValues(p.Name(), outcomeNotSuccessful).Inc()
		s.log.Info("payments.verify.not_successful", "provider", p.Name(), "reference", res.Reference, "status", res.Status)
		out := Outcome{Result: res, Source: SourceLive, OrderNumber: res.OrderID()}
		s.publish(out)
		return out, nil
	}

	return s.fulfill(ctx, res, SourceLive)
}

// Complete simulates a successful payment and runs the same fulfillment steps as Verify.
// Outside development it is rejected before any collaborator is touched.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (Outcome, error) {
	if !s.cfg.DevBypassEnabled() {
		s.log.Warn("payments.dev_bypass.rejected", "env", s.cfg.Env, "order_id", strings.TrimSpace(req.OrderID))
		return Outcome{}, ErrDevBypassDisabled
	}

	email := identity.NormalizeEmail(req.Customer.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Outcome{}, fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}
	if req.Amount.IsNegative() {
		return Outcome{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now()
	ref, err := newDevReference(now)
	if err != nil {
		return Outcome{}, err
	}

	md := make(map[string]any, len(req.Meta)+1)
	for k, v := range req.Meta {
		md[k] = v
	}
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		md["orderId"] = orderID
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "NGN"
	}

	res := provider.Result{
		Success:   true,
		Status:    provider.StatusSuccessful,
		Provider:  devProviderName,
		Reference: ref,
		Amount:    req.Amount,
		Currency:  currency,
		Customer: provider.Customer{
			Email: strings.TrimSpace(req.Customer.Email),
			Name:  strings.TrimSpace(req.Customer.Name),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		PaidAt:   &now,
		Channel:  devChannel,
		Metadata: md,
	}

	s.log.Info("payments.dev_bypass.complete", "reference", ref, "order_id", req.OrderID)
	return s.fulfill(ctx, res, SourceDevBypass)
}

// Status returns the stored payment for reference. When nothing is stored and providerName
// is set, it falls back to a live Verify; concurrent fallbacks for the same reference share one call.
func (s *Service) Status(ctx context.Context, reference, providerName string) (Outcome, error) {
	reference = strings.TrimSpace(reference)
	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if reference == "" {
		return Outcome{}, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}

	p, err := s.billing.GetPayment(ctx, reference)
	switch {
	case err == nil:
		return storedOutcome(p), nil
	case !billing.IsNotFound(err):
		return Outcome{}, fmt.Errorf("fulfillment: load payment: %w", err)
	}

	if providerName == "" || !s.providers.Known(providerName) {
		return Outcome{}, ErrNotFound
	}

	v, err, shared := s.live.Do(providerName+":"+reference, func() (any, error) {
		return s.Verify(context.WithoutCancel(ctx), VerifyRequest{Provider: providerName, Reference: reference})
	})
	if err != nil {
		return Outcome{}, err
	}
	if shared {
		s.log.Debug("payments.status.live_shared", "reference", reference)
	}
	return v.(Outcome), nil
}

// Reconcile re-applies the order transition for successful payments whose order is still pending.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	payments, err := s.billing.ListUnreconciled(ctx, limit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("fulfillment: list unreconciled: %w", err)
	}

	var rep ReconcileReport
	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		if p.OrderNumber == nil {
			continue
		}

		paidAt := p.UpdatedAt
		if p.PaidAt != nil {
			paidAt = *p.PaidAt
		}
		if _, err := s.billing.MarkOrderFulfilled(ctx, *p.OrderNumber, paidAt); err != nil {
			rep.Failed++
			s.log.Error("payments.reconcile.order_update.fail", "reference", p.Reference, "order_number", *p.OrderNumber, "err", err)
			continue
		}
		rep.Fixed++
		s.log.Info("payments.reconcile.order_fulfilled", "reference", p.Reference, "order_number", *p.OrderNumber)
	}
	return rep, nil
}

func storedOutcome(p billing.Payment) Outcome {
	res := provider.Result{
		Success:   p.Status == billing.PaymentSuccessful,
		Status:    provider.Status(p.Status),
		Provider:  p.Provider,
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Customer: provider.Customer{
			Email: p.CustomerEmail,
			Name:  p.CustomerName,
		},
		PaidAt:   p.PaidAt,
		Channel:  p.Channel,
		Metadata: map[string]any(p.Metadata),
	}
	if p.CustomerPhone != nil {
		res.Customer.Phone = *p.CustomerPhone
	}
	out := Outcome{Result: res, Source: SourceStored, Verified: res.Success}
	if p.OrderNumber != nil {
		out.OrderNumber = *p.OrderNumber
	}
	return out
}
