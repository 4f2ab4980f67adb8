package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"ticketpay/cmd/identity/ids"
	"ticketpay/cmd/internal/fulfillment"
	v1 "ticketpay/shared/contracts/payments/v1"

	"github.com/coder/websocket"
)

// StatusLookup loads the stored outcome for a reference. With an empty provider
// name it must not call a gateway; fulfillment.Service satisfies it.
type StatusLookup interface {
	Status(ctx context.Context, reference, providerName string) (fulfillment.Outcome, error)
}

// WSGateway is the WebSocket entrypoint for the payment status feed.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// and maps subscribe/unsubscribe envelopes onto Hub topics.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	lookup StatusLookup
	cfg    WSConfig
	origin originPolicy
}

// NewWSGateway builds a gateway configured from TICKETPAY_WS_* variables.
// lookup is optional; when set, a subscribe is answered with the stored status if one exists.
func NewWSGateway(log *slog.Logger, hub *Hub, lookup StatusLookup) *WSGateway {
	return NewWSGatewayWithConfig(log, hub, lookup, LoadWSConfigFromEnv())
}

// NewWSGatewayWithConfig builds a gateway from an explicit config.
func NewWSGatewayWithConfig(log *slog.Logger, hub *Hub, lookup StatusLookup, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:    log,
		hub:    hub,
		lookup: lookup,
		cfg:    cfg,
		origin: newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
	}
}

// Hub returns the hub the gateway subscribes sessions to.
func (g *WSGateway) Hub() *Hub { return g.hub }

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) { g.HandleWS(w, r) }

// HandleWS upgrades the request and runs the session until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.origin.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origin.acceptPatterns(),
		InsecureSkipVerify: g.cfg.DevInsecure || g.origin.wildcard,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	s := newSession(r.Context(), g, conn, "ws_"+id)
	g.log.Info("ws.session.open", "session_id", s.id(), "remote", r.RemoteAddr)
	s.run()
	g.log.Info("ws.session.close", "session_id", s.id(), "dropped", s.client.Dropped())
}
