package notify

import (
	"context"
	"log/slog"
)

// LogSender logs messages instead of sending them. Used when SMTP is not configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s LogSender) SendTicketConfirmation(_ context.Context, tc TicketConfirmation) error {
	s.logger().Info("notify.ticket_confirmation",
		"to", tc.To,
		"reference", tc.Reference,
		"order_number", tc.OrderNumber,
		"amount", tc.Amount.StringFixed(2),
		"currency", tc.Currency,
		"items", len(tc.Items),
	)
	return nil
}

func (s LogSender) SendWelcome(_ context.Context, w Welcome) error {
	s.logger().Info("notify.welcome", "to", w.To, "profile_url", w.ProfileURL)
	return nil
}
