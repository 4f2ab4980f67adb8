package app

import (
	"encoding/json"
	"net/http"
	"time"

	payapi "ticketpay/cmd/internal/fulfillment/api"
	"ticketpay/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readyzDBTimeout = 2 * time.Second

type readiness struct {
	Status string `json:"status"`
	DB     string `json:"db"`
	Topics int    `json:"ws_topics"`
}

// routes bundles everything registerHTTP mounts.
type routes struct {
	dbPool    *pgxpool.Pool
	dbEnabled bool
	gatherer  prometheus.Gatherer
	ws        *realtime.WSGateway
	payments  *payapi.Handler
}

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, rt routes) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		body := readiness{Status: "ready", DB: "disabled"}
		status := http.StatusOK

		switch {
		case rt.dbEnabled && rt.dbPool != nil:
			body.DB = "ok"
			if err := PingDB(r.Context(), rt.dbPool, readyzDBTimeout); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				body.DB, body.Status, status = "unreachable", "not_ready", http.StatusServiceUnavailable
			}
		case cfg.ReadinessRequireDB:
			body.Status, status = "not_ready", http.StatusServiceUnavailable
		}
		if rt.ws != nil {
			body.Topics = rt.ws.Hub().Topics()
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	if rt.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{
			ErrorLog: slogPromLogger{log},
		}))
	}

	if rt.payments != nil {
		rt.payments.Register(mux)
	}

	if rt.ws != nil {
		mux.HandleFunc("/ws/payments", rt.ws.HandleWS)
	}
}

// slogPromLogger adapts slog to promhttp.Logger.
type slogPromLogger struct{ log Logger }

func (l slogPromLogger) Println(v ...any) { l.log.Error("metrics.serve.fail", "err", v) }
