package billing

import (
	"context"
	"time"
)

// Store is the idempotent persistence boundary for the fulfillment pipeline.
//
// Requirements:
//   - UpsertPayment is insert-or-replace on Reference: N calls leave one row with the last data.
//   - MarkOrderFulfilled only moves flags forward and keeps the first paid_at.
//   - InsertRegistration is append-only (no dedupe).
type Store interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	GetOrder(ctx context.Context, orderNumber string) (Order, error)
	MarkOrderFulfilled(ctx context.Context, orderNumber string, paidAt time.Time) (Order, error)

	UpsertPayment(ctx context.Context, p Payment) (UpsertPaymentResult, error)
	GetPayment(ctx context.Context, reference string) (Payment, error)

	InsertRegistration(ctx context.Context, r Registration) (Registration, error)

	// ListUnreconciled returns successful payments whose order is still not fulfilled/paid.
	ListUnreconciled(ctx context.Context, limit int) ([]Payment, error)
}
