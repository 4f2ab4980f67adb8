package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://pay.example.com", want: "wss://pay.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestApp_InMemoryWiring(t *testing.T) {
	cfg := Config{
		Env:                "development",
		HTTPAddr:           "127.0.0.1:0",
		PublicBaseURL:      "https://tickets.example.com",
		DBSchema:           "ticketpay",
		RateLimitBackend:   "memory",
		RateLimitLimit:     100,
		RateLimitWindow:    time.Minute,
		CORSAllowedOrigins: []string{"https://app.example.com"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(ctx)
	})
	h := a.Handler()

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do(http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if rr := do(http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rr.Code)
	}

	rr := do(http.MethodPost, "/dev/complete",
		`{"orderId":"ORD-9","amount":2500,"currency":"ngn","customer":{"email":"ada@example.com","name":"Ada Obi"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("dev complete status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("middleware headers missing: %v", rr.Header())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ref, _ := out["reference"].(string)
	if !strings.HasPrefix(ref, "DEV-") || out["isNewUser"] != true {
		t.Fatalf("unexpected outcome: %v", out)
	}
	if url, _ := out["profileUrl"].(string); !strings.HasPrefix(url, "https://tickets.example.com/u/") {
		t.Fatalf("profileUrl=%q", url)
	}

	rr = do(http.MethodGet, "/verify?reference="+ref, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status lookup=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"source":"stored"`) {
		t.Fatalf("expected stored source: %s", rr.Body.String())
	}

	if rr := do(http.MethodGet, "/verify?reference=NOPE", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown reference status=%d", rr.Code)
	}

	rr = do(http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	for _, want := range []string{`ticketpay_verifications_total{outcome="verified",provider="dev"} 1`, "go_goroutines"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}

	if rr := do(http.MethodPost, "/verify", `{"provider":"paystack","reference":"T1"}`); rr.Code != http.StatusInternalServerError {
		t.Fatalf("unconfigured provider status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNew_RejectsPostgresLimiterWithoutDB(t *testing.T) {
	cfg := Config{Env: "production", RateLimitBackend: "postgres"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(cfg, log); err == nil || !strings.Contains(err.Error(), "requires TICKETPAY_DATABASE_URL") {
		t.Fatalf("expected postgres limiter error, got %v", err)
	}
}

func TestStatusFeedURL(t *testing.T) {
	t.Parallel()

	if got := StatusFeedURL(Config{HTTPAddr: "0.0.0.0:8080"}); got != "ws://127.0.0.1:8080/ws/payments" {
		t.Fatalf("StatusFeedURL()=%q", got)
	}
	if got := StatusFeedURL(Config{PublicBaseURL: "https://pay.example.com/"}); got != "wss://pay.example.com/ws/payments" {
		t.Fatalf("StatusFeedURL()=%q", got)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		name       string
		cfg        Config
		wantStatus int
		wantBody   string
	}{
		{name: "in-memory", cfg: Config{}, wantStatus: http.StatusOK, wantBody: `"db":"disabled"`},
		{name: "db required", cfg: Config{ReadinessRequireDB: true}, wantStatus: http.StatusServiceUnavailable, wantBody: `"status":"not_ready"`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mux := http.NewServeMux()
			registerHTTP(mux, log, tc.cfg, routes{})

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.wantStatus || !strings.Contains(rr.Body.String(), tc.wantBody) {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
		})
	}
}
