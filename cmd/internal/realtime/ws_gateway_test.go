package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/payment/provider"
	v1 "ticketpay/shared/contracts/payments/v1"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
)

type stubLookup struct {
	out fulfillment.Outcome
	err error
}

func (s stubLookup) Status(context.Context, string, string) (fulfillment.Outcome, error) {
	return s.out, s.err
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws/payments", gw)
	return httptest.NewServer(mux)
}

func dialWS(t *testing.T, baseURL, origin string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	if origin != "" {
		hdr.Set("Origin", origin)
	}
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/payments"
	return websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   hdr,
	})
}

func sendEnv(t *testing.T, c *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	b, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: raw})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnv(t *testing.T, c *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func waitSubscribers(t *testing.T, h *Hub, ref string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(ref) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers(%s) = %d, want %d", ref, h.Subscribers(ref), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_SubscribeReceivesStatus(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "http://localhost")

	hub := NewHub(testLogger())
	gw := NewWSGateway(testLogger(), hub, nil)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "http://localhost", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	sendEnv(t, conn, v1.TypeSubscribe, v1.SubscribePayload{Reference: "REF-1"})
	ack := readEnv(t, conn)
	if ack.Type != v1.TypeSubscribed || ack.Reference != "REF-1" {
		t.Fatalf("ack = %+v", ack)
	}
	waitSubscribers(t, hub, "REF-1", 1)

	hub.PublishStatus(testUpdate("REF-1"))
	got := readEnv(t, conn)
	if got.Type != v1.TypePaymentStatus || got.Reference != "REF-1" {
		t.Fatalf("status envelope = %+v", got)
	}

	sendEnv(t, conn, v1.TypeUnsubscribe, v1.SubscribePayload{Reference: "REF-1"})
	if env := readEnv(t, conn); env.Type != v1.TypeUnsubscribed {
		t.Fatalf("unsubscribe ack = %+v", env)
	}
	waitSubscribers(t, hub, "REF-1", 0)
}

func TestWSGateway_SubscribeSendsStoredSnapshot(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "http://localhost")

	paid := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	lookup := stubLookup{out: fulfillment.Outcome{
		Result: provider.Result{
			Success:   true,
			Status:    provider.StatusSuccessful,
			Provider:  provider.NamePaystack,
			Reference: "REF-S",
			Amount:    decimal.NewFromInt(100),
			Currency:  "NGN",
			PaidAt:    &paid,
		},
		Source:   fulfillment.SourceStored,
		Verified: true,
	}}
	gw := NewWSGateway(testLogger(), NewHub(testLogger()), lookup)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "http://localhost", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	sendEnv(t, conn, v1.TypeSubscribe, v1.SubscribePayload{Reference: "REF-S"})
	if env := readEnv(t, conn); env.Type != v1.TypeSubscribed {
		t.Fatalf("ack = %+v", env)
	}
	snap := readEnv(t, conn)
	var p v1.PaymentStatusPayload
	if err := json.Unmarshal(snap.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if snap.Type != v1.TypePaymentStatus || !p.Verified || p.Amount != "100" {
		t.Fatalf("snapshot = %+v %+v", snap, p)
	}
}

func TestWSGateway_RejectsDisallowedOrigin(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "https://tickets.example.com")

	gw := NewWSGateway(testLogger(), nil, nil)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	_, resp, err := dialWS(t, ts.URL, "https://evil.example.net", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_RejectsMissingOriginByDefault(t *testing.T) {
	gw := NewWSGateway(testLogger(), nil, nil)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	_, resp, err := dialWS(t, ts.URL, "", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for missing origin, err=%v", err)
	}
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "http://localhost")

	gw := NewWSGateway(testLogger(), nil, nil)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "http://localhost")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("close status = %v (err=%v), want protocol error", websocket.CloseStatus(err), err)
	}
}

func TestWSGateway_BadEnvelopeGetsError(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "http://localhost")

	gw := NewWSGateway(testLogger(), nil, nil)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	conn, resp, err := dialWS(t, ts.URL, "http://localhost", v1.Subprotocol)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	sendEnv(t, conn, v1.TypeSubscribe, v1.SubscribePayload{Reference: "  "})
	env := readEnv(t, conn)
	var p v1.ErrorPayload
	_ = json.Unmarshal(env.Payload, &p)
	if env.Type != v1.TypeError || p.Code != "subscribe_failed" {
		t.Fatalf("envelope = %+v payload=%+v", env, p)
	}
}

func TestOriginPolicy_AcceptPatterns(t *testing.T) {
	p := newOriginPolicy(true, []string{"http://localhost:3000", "https://Tickets.Example.com", "*"})
	if !p.wildcard {
		t.Fatalf("wildcard not detected")
	}
	got := p.acceptPatterns()
	want := []string{"localhost", "localhost:*", "tickets.example.com", "tickets.example.com:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
}

func TestOriginPolicy_Check(t *testing.T) {
	p := newOriginPolicy(true, []string{"https://tickets.example.com"})
	cases := []struct {
		origin string
		ok     bool
	}{
		{"https://tickets.example.com", true},
		{"http://tickets.example.com:8080", true},
		{"https://evil.example.net", false},
		{"", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws/payments", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if err := p.check(r); (err == nil) != tc.ok {
			t.Errorf("check(%q) err=%v, want ok=%v", tc.origin, err, tc.ok)
		}
	}

	open := newOriginPolicy(false, nil)
	if err := open.check(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("optional origin rejected: %v", err)
	}
}

func TestLoadWSConfigFromEnv(t *testing.T) {
	t.Setenv("TICKETPAY_WS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("TICKETPAY_WS_SEND_QUEUE", "2")
	t.Setenv("TICKETPAY_WS_RATE_EVENTS", "-5")
	t.Setenv("TICKETPAY_WS_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("TICKETPAY_WS_ORIGIN_REQUIRED", "false")

	cfg := LoadWSConfigFromEnv().withDefaults()
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.SendQueue != wsMinSendQueue {
		t.Fatalf("send queue = %d, want floor %d", cfg.SendQueue, wsMinSendQueue)
	}
	if cfg.RateEvents != DefaultWSConfig().RateEvents {
		t.Fatalf("rate events = %d, want default", cfg.RateEvents)
	}
	if cfg.HeartbeatInterval != 10*time.Second || cfg.OriginRequired {
		t.Fatalf("cfg = %+v", cfg)
	}
}
