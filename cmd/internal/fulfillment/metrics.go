package fulfillment

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Verification outcome label values.
const (
	outcomeVerified      = "verified"
	outcomeNotSuccessful = "not_successful"
	outcomeInvalid       = "invalid"
	outcomeNotConfigured = "not_configured"
	outcomeProviderError = "provider_error"
	outcomeStoreError    = "store_error"
)

// Side-effect step label values.
const (
	stepOrder        = "order"
	stepProfile      = "profile"
	stepRegistration = "registration"
	stepNotify       = "notify"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	verifications      *prometheus.CounterVec
	sideEffectFailures *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
}

// NewMetrics builds collectors and registers them on reg when non-nil.
// Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketpay_verifications_total",
			Help: "Payment verifications by provider and outcome.",
		}, []string{"provider", "outcome"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketpay_side_effect_failures_total",
			Help: "Tolerated failures of post-verification side effects by step.",
		}, []string{"step"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketpay_provider_verify_seconds",
			Help:    "Gateway verification call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"provider"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.verifications, err = registerOrReuse(reg, m.verifications); err != nil {
		return nil, err
	}
	if m.sideEffectFailures, err = registerOrReuse(reg, m.sideEffectFailures); err != nil {
		return nil, err
	}
	if m.providerLatency, err = registerOrReuse(reg, m.providerLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
