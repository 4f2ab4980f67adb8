package payapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/payment/provider"
	"ticketpay/cmd/internal/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Orchestrator is the part of fulfillment.Service the HTTP layer drives.
type Orchestrator interface {
	Config() fulfillment.Config
	Verify(ctx context.Context, req fulfillment.VerifyRequest) (fulfillment.Outcome, error)
	Complete(ctx context.Context, req fulfillment.CompleteRequest) (fulfillment.Outcome, error)
	Status(ctx context.Context, reference, providerName string) (fulfillment.Outcome, error)
}

// Handler wires the payment HTTP endpoints to the orchestrator.
type Handler struct {
	log *slog.Logger
	cfg Config
	svc Orchestrator

	limiter ratelimit.Limiter

	pool   *pgxpool.Pool
	schema string

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLimiter sets the per-IP limiter for /verify and /dev/complete. Default admits everything.
func WithLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		if h == nil || l == nil {
			return
		}
		h.limiter = l
	}
}

// WithAuditPool stores security events in schema.audit_log.
func WithAuditPool(pool *pgxpool.Pool, schema string) HandlerOption {
	return func(h *Handler) {
		if h == nil || pool == nil {
			return
		}
		h.pool = pool
		if s := strings.TrimSpace(schema); s != "" {
			h.schema = s
		}
	}
}

// NewHandler constructs a payment API Handler.
func NewHandler(log *slog.Logger, svc Orchestrator, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("payapi: nil orchestrator")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:     log,
		cfg:     cfg.withDefaults(),
		svc:     svc,
		limiter: ratelimit.Nop{},
		schema:  "ticketpay",
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires payment routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/verify", h.handleVerify)
	mux.HandleFunc("/dev/complete", h.handleDevComplete)
	mux.HandleFunc("/webhooks/paystack", h.handlePaystackWebhook)
	mux.HandleFunc("/webhooks/flutterwave", h.handleFlutterwaveWebhook)
}

// ---- handlers ----

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleVerifyPost(w, r)
	case http.MethodGet:
		h.handleVerifyStatus(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerifyPost(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "verify") {
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	out, err := h.svc.Verify(r.Context(), fulfillment.VerifyRequest{
		Provider:      req.Provider,
		Reference:     req.Reference,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		h.writeServiceError(w, "payments.api.verify", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(out))
}

func (h *Handler) handleVerifyStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reference := strings.TrimSpace(q.Get("reference"))
	if reference == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reference is required")
		return
	}
	if !h.allow(w, r, "verify") {
		return
	}

	out, err := h.svc.Status(r.Context(), reference, q.Get("provider"))
	if err != nil {
		h.writeServiceError(w, "payments.api.status", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(out))
}

func (h *Handler) handleDevComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// Gate before reading the body so a non-development deployment always answers 403.
	if !h.svc.Config().DevBypassEnabled() {
		h.auditDevBypassRejected(r.Context(), clientIP(r, h.cfg.TrustProxy), r.UserAgent(), r.URL.Query().Get("orderId"))
		writeError(w, http.StatusForbidden, "forbidden", "dev bypass is disabled in this environment")
		return
	}
	if !h.allow(w, r, "dev_complete") {
		return
	}

	var req completeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	out, err := h.svc.Complete(r.Context(), fulfillment.CompleteRequest{
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Customer: provider.Customer{
			Email: req.Customer.Email,
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
		},
		Meta: req.Meta,
	})
	if err != nil {
		if errors.Is(err, fulfillment.ErrDevBypassDisabled) {
			h.auditDevBypassRejected(r.Context(), clientIP(r, h.cfg.TrustProxy), r.UserAgent(), req.OrderID)
		}
		h.writeServiceError(w, "payments.api.dev_complete", err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(out))
}

// allow applies the per-IP limiter. It writes the response and returns false when the request must stop.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, route string) bool {
	ip := clientIP(r, h.cfg.TrustProxy)
	key := route + ":unknown"
	if ip != nil {
		key = route + ":" + ip.String()
	}

	d, err := h.limiter.Allow(r.Context(), key, h.now())
	if err != nil {
		h.log.Error("payments.api.rate_limit.fail", "route", route, "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return false
	}
	if !d.Allowed {
		h.auditRateLimited(r.Context(), ip, r.UserAgent(), route, d.RetryAfter)
		writeRateLimited(w, d.RetryAfter)
		return false
	}
	return true
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// writeServiceError maps orchestrator errors onto the HTTP error contract.
func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, fulfillment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, fulfillment.ErrDevBypassDisabled):
		writeError(w, http.StatusForbidden, "forbidden", "dev bypass is disabled in this environment")
	case errors.Is(err, fulfillment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "payment not found")
	case errors.Is(err, fulfillment.ErrProviderNotConfigured):
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "provider_not_configured", "payment provider is not configured")
	case errors.Is(err, fulfillment.ErrProviderUnavailable):
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "provider_unavailable", "payment provider is unavailable")
	case errors.Is(err, fulfillment.ErrPaymentNotRecorded):
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "payment_not_recorded", "payment confirmed but could not be recorded; retry")
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
