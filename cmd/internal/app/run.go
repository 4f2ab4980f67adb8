package app

import "context"

// Serve loads configuration from the environment, wires the runtime and blocks until ctx is done.
// Callers own signal handling; cmd/ticketpay cancels ctx on SIGINT/SIGTERM.
func Serve(ctx context.Context) error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
