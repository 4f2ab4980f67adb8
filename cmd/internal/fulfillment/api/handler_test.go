package payapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/billing"
	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/payment/provider"
	"ticketpay/cmd/internal/ratelimit"
	"ticketpay/cmd/security/signature"

	"github.com/shopspring/decimal"
)

const (
	testPaystackSecret  = "sk_test_webhook"
	testFlutterwaveHash = "fw-secret-hash"
)

type fakeGateway struct {
	name       string
	configured bool

	mu       sync.Mutex
	res      provider.Result
	err      error
	calls    int
	lastTxID string
}

func (g *fakeGateway) Name() string       { return g.name }
func (g *fakeGateway) IsConfigured() bool { return g.configured }

func (g *fakeGateway) Verify(_ context.Context, reference, transactionID string) (provider.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastTxID = transactionID
	if g.err != nil {
		return provider.Result{}, g.err
	}
	res := g.res
	res.Reference = reference
	return res, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	mux         *http.ServeMux
	paystack    *fakeGateway
	flutterwave *fakeGateway
	billing     *billing.InMemoryStore
	profiles    *identity.InMemoryStore
}

func newTestEnv(t *testing.T, env string, opts ...HandlerOption) *testEnv {
	t.Helper()

	te := &testEnv{
		mux:         http.NewServeMux(),
		paystack:    &fakeGateway{name: provider.NamePaystack, configured: true},
		flutterwave: &fakeGateway{name: provider.NameFlutterwave, configured: true},
		billing:     billing.NewInMemoryStore(),
		profiles:    identity.NewInMemoryStore(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := fulfillment.NewService(log,
		fulfillment.Config{Env: env, PublicBaseURL: "https://tickets.example.com"},
		provider.NewRegistry(te.paystack, te.flutterwave),
		te.billing, te.profiles,
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	h, err := NewHandler(log, svc, Config{
		PaystackSecret:  testPaystackSecret,
		FlutterwaveHash: testFlutterwaveHash,
	}, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.Register(te.mux)
	return te
}

func (te *testEnv) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	te.mux.ServeHTTP(rr, req)
	return rr
}

func successfulCharge(email string, amount int64, md map[string]any) provider.Result {
	paid := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return provider.Result{
		Status:   provider.StatusSuccessful,
		Amount:   decimal.NewFromInt(amount),
		Currency: "NGN",
		Customer: provider.Customer{Email: email, Name: "A"},
		PaidAt:   &paid,
		Channel:  "card",
		Metadata: md,
	}
}

func decodeVerify(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return m
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return e.Error.Code
}

func TestVerifyPost_SuccessThenRepeat(t *testing.T) {
	te := newTestEnv(t, "production")
	te.paystack.res = successfulCharge("a@x.com", 25000, map[string]any{})

	rr := te.do(t, http.MethodPost, "/verify", verifyRequest{Provider: "paystack", Reference: "REF-1"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	m := decodeVerify(t, rr)
	if m["verified"] != true || m["isNewUser"] != true || m["success"] != true {
		t.Fatalf("first response = %v", m)
	}
	if m["amount"] != float64(25000) || m["currency"] != "NGN" || m["status"] != "successful" {
		t.Fatalf("amount/currency/status = %v/%v/%v", m["amount"], m["currency"], m["status"])
	}
	if !strings.HasPrefix(m["profileUrl"].(string), "https://tickets.example.com/u/") {
		t.Fatalf("profileUrl = %v", m["profileUrl"])
	}

	rr = te.do(t, http.MethodPost, "/verify", verifyRequest{Provider: "paystack", Reference: "REF-1"}, nil)
	m = decodeVerify(t, rr)
	if m["verified"] != true || m["isNewUser"] != false {
		t.Fatalf("second response = %v", m)
	}
	if te.billing.PaymentCount() != 1 || te.profiles.Len() != 1 {
		t.Fatalf("payments=%d profiles=%d", te.billing.PaymentCount(), te.profiles.Len())
	}
}

func TestVerifyPost_PendingIs200Unverified(t *testing.T) {
	te := newTestEnv(t, "production")
	te.paystack.res = provider.Result{Status: provider.StatusPending, Error: "payment pending"}

	rr := te.do(t, http.MethodPost, "/verify", verifyRequest{Provider: "paystack", Reference: "REF-P"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	m := decodeVerify(t, rr)
	if m["verified"] != false || m["status"] != "pending" || m["error"] != "payment pending" {
		t.Fatalf("response = %v", m)
	}
	if _, ok := m["isNewUser"]; ok {
		t.Fatalf("isNewUser must be absent when provisioning did not run")
	}
	if te.billing.PaymentCount() != 0 {
		t.Fatalf("payment written for pending result")
	}
}

func TestVerifyPost_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		setup    func(te *testEnv)
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed json",
			body:     `{"provider":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_json",
		},
		{
			name:     "unknown field",
			body:     `{"provider":"paystack","reference":"R","amount":5}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_json",
		},
		{
			name:     "empty reference",
			body:     verifyRequest{Provider: "paystack"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "unknown provider",
			body:     verifyRequest{Provider: "stripe", Reference: "R"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "unconfigured provider",
			body:     verifyRequest{Provider: "flutterwave", Reference: "R"},
			setup:    func(te *testEnv) { te.flutterwave.configured = false },
			wantCode: http.StatusInternalServerError,
			wantErr:  "provider_not_configured",
		},
		{
			name:     "provider down",
			body:     verifyRequest{Provider: "paystack", Reference: "R"},
			setup:    func(te *testEnv) { te.paystack.err = errors.New("connection reset") },
			wantCode: http.StatusInternalServerError,
			wantErr:  "provider_unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t, "production")
			if tt.setup != nil {
				tt.setup(te)
			}
			rr := te.do(t, http.MethodPost, "/verify", tt.body, nil)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body=%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tt.wantErr {
				t.Fatalf("error code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestVerifyGet_Status(t *testing.T) {
	te := newTestEnv(t, "production")
	te.paystack.res = successfulCharge("a@x.com", 100, map[string]any{})

	if rr := te.do(t, http.MethodGet, "/verify", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing reference status = %d", rr.Code)
	}
	if rr := te.do(t, http.MethodGet, "/verify?reference=REF-1", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown reference without provider status = %d", rr.Code)
	}
	if rr := te.do(t, http.MethodGet, "/verify?reference=REF-1&provider=bogus", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown reference with unregistered provider status = %d", rr.Code)
	}

	rr := te.do(t, http.MethodGet, "/verify?reference=REF-1&provider=paystack", nil, nil)
	if rr.Code != http.StatusOK || decodeVerify(t, rr)["source"] != "live" {
		t.Fatalf("live fallback = %d %s", rr.Code, rr.Body.String())
	}

	rr = te.do(t, http.MethodGet, "/verify?reference=REF-1&provider=paystack", nil, nil)
	m := decodeVerify(t, rr)
	if rr.Code != http.StatusOK || m["source"] != "stored" || m["verified"] != true {
		t.Fatalf("stored lookup = %d %v", rr.Code, m)
	}
	if got := te.paystack.callCount(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestVerify_MethodNotAllowed(t *testing.T) {
	te := newTestEnv(t, "production")
	rr := te.do(t, http.MethodDelete, "/verify", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDevComplete_Gated(t *testing.T) {
	body := map[string]any{
		"orderId":  "ORD-1",
		"amount":   5000,
		"currency": "NGN",
		"customer": map[string]any{"email": "dev@x.com", "name": "Dev"},
	}

	t.Run("production", func(t *testing.T) {
		te := newTestEnv(t, "production")
		if _, err := te.billing.CreateOrder(context.Background(), billing.Order{OrderNumber: "ORD-1"}); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}

		rr := te.do(t, http.MethodPost, "/dev/complete", body, nil)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		// Even an unparseable body is refused with 403, not 400.
		if rr := te.do(t, http.MethodPost, "/dev/complete", "{", nil); rr.Code != http.StatusForbidden {
			t.Fatalf("malformed body status = %d, want 403", rr.Code)
		}
		if te.billing.PaymentCount() != 0 || te.profiles.Len() != 0 {
			t.Fatalf("dev bypass wrote state in production")
		}
		o, _ := te.billing.GetOrder(context.Background(), "ORD-1")
		if o.Fulfilled() {
			t.Fatalf("order fulfilled in production bypass")
		}
	})

	t.Run("development", func(t *testing.T) {
		te := newTestEnv(t, "development")
		if _, err := te.billing.CreateOrder(context.Background(), billing.Order{OrderNumber: "ORD-1"}); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}

		rr := te.do(t, http.MethodPost, "/dev/complete", body, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		m := decodeVerify(t, rr)
		if !strings.HasPrefix(m["reference"].(string), "DEV-") || m["channel"] != "dev-bypass" || m["verified"] != true {
			t.Fatalf("response = %v", m)
		}
		if m["orderUpdated"] != true {
			t.Fatalf("order not updated: %v", m)
		}
		if te.paystack.callCount() != 0 {
			t.Fatalf("bypass called a gateway")
		}
	})
}

func TestRateLimit_Returns429WithRetryAfter(t *testing.T) {
	te := newTestEnv(t, "production", WithLimiter(ratelimit.NewMemoryLimiter(1, time.Minute)))
	te.paystack.res = successfulCharge("a@x.com", 100, map[string]any{})

	if rr := te.do(t, http.MethodPost, "/verify", verifyRequest{Provider: "paystack", Reference: "R1"}, nil); rr.Code != http.StatusOK {
		t.Fatalf("first status = %d", rr.Code)
	}
	rr := te.do(t, http.MethodPost, "/verify", verifyRequest{Provider: "paystack", Reference: "R2"}, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if te.paystack.callCount() != 1 {
		t.Fatalf("rate-limited request reached the gateway")
	}
}

func TestPaystackWebhook(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"REF-W","amount":2500000}}`)

	t.Run("bad signature", func(t *testing.T) {
		te := newTestEnv(t, "production")
		rr := te.do(t, http.MethodPost, "/webhooks/paystack", payload, map[string]string{
			signature.PaystackHeader: signature.HMACSHA512Hex(payload, []byte("wrong")),
		})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		if te.paystack.callCount() != 0 {
			t.Fatalf("unsigned webhook reached the gateway")
		}
	})

	t.Run("valid signature re-verifies", func(t *testing.T) {
		te := newTestEnv(t, "production")
		te.paystack.res = successfulCharge("a@x.com", 25000, map[string]any{})

		rr := te.do(t, http.MethodPost, "/webhooks/paystack", payload, map[string]string{
			signature.PaystackHeader: signature.HMACSHA512Hex(payload, []byte(testPaystackSecret)),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		var ack webhookAck
		_ = json.Unmarshal(rr.Body.Bytes(), &ack)
		if !ack.Received || !ack.Verified {
			t.Fatalf("ack = %+v", ack)
		}
		if _, err := te.billing.GetPayment(context.Background(), "REF-W"); err != nil {
			t.Fatalf("GetPayment: %v", err)
		}
	})

	t.Run("other events ignored", func(t *testing.T) {
		te := newTestEnv(t, "production")
		other := []byte(`{"event":"transfer.success","data":{"reference":"T-1"}}`)
		rr := te.do(t, http.MethodPost, "/webhooks/paystack", other, map[string]string{
			signature.PaystackHeader: signature.HMACSHA512Hex(other, []byte(testPaystackSecret)),
		})
		if rr.Code != http.StatusOK || te.paystack.callCount() != 0 {
			t.Fatalf("status = %d calls = %d", rr.Code, te.paystack.callCount())
		}
	})

	t.Run("gateway failure still acknowledged", func(t *testing.T) {
		te := newTestEnv(t, "production")
		te.paystack.err = errors.New("timeout")
		rr := te.do(t, http.MethodPost, "/webhooks/paystack", payload, map[string]string{
			signature.PaystackHeader: signature.HMACSHA512Hex(payload, []byte(testPaystackSecret)),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	})
}

func TestFlutterwaveWebhook(t *testing.T) {
	payload := []byte(`{"event":"charge.completed","data":{"id":285959875,"tx_ref":"FLW-REF-1","status":"successful"}}`)

	te := newTestEnv(t, "production")
	te.flutterwave.res = successfulCharge("b@x.com", 500, map[string]any{})

	rr := te.do(t, http.MethodPost, "/webhooks/flutterwave", payload, map[string]string{
		signature.FlutterwaveHeader: "nope",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad hash status = %d", rr.Code)
	}

	rr = te.do(t, http.MethodPost, "/webhooks/flutterwave", payload, map[string]string{
		signature.FlutterwaveHeader: testFlutterwaveHash,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	te.flutterwave.mu.Lock()
	txID := te.flutterwave.lastTxID
	te.flutterwave.mu.Unlock()
	if txID != "285959875" {
		t.Fatalf("transaction id = %q", txID)
	}
	if _, err := te.billing.GetPayment(context.Background(), "FLW-REF-1"); err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
}

func TestWebhook_SecretMissing(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := fulfillment.NewService(log, fulfillment.Config{},
		provider.NewRegistry(&fakeGateway{name: provider.NamePaystack, configured: true}),
		billing.NewInMemoryStore(), identity.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h, err := NewHandler(log, svc, Config{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", strings.NewReader(`{}`))
	req.Header.Set(signature.PaystackHeader, "abc")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req, false); got.String() != "10.0.0.7" {
		t.Fatalf("untrusted = %v", got)
	}
	if got := clientIP(req, true); got.String() != "203.0.113.9" {
		t.Fatalf("trusted = %v", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := clientIP(req, true); got.String() != "198.51.100.4" {
		t.Fatalf("x-real-ip = %v", got)
	}
}

func TestSchemaSQL_QuotesSchema(t *testing.T) {
	ddl := SchemaSQL("tp_test")
	if !strings.Contains(ddl, `"tp_test"."audit_log"`) {
		t.Fatalf("ddl = %s", ddl)
	}
}
