package billing

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a process-local Store used for development and tests.
// It honors the same idempotency rules as PostgresStore.
type InMemoryStore struct {
	mu            sync.Mutex
	orders        map[string]Order
	payments      map[string]Payment
	registrations []Registration
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:   make(map[string]Order),
		payments: make(map[string]Payment),
	}
}

func (s *InMemoryStore) CreateOrder(ctx context.Context, o Order) (Order, error) {
	const op = "billing.CreateOrder"
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	o, err := normalizeNewOrder(op, o)
	if err != nil {
		return Order{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.OrderNumber]; ok {
		return Order{}, ConflictError{Op: op, Field: "order_number"}
	}
	o.Metadata = maps.Clone(o.Metadata)
	s.orders[o.OrderNumber] = o
	return o, nil
}

func (s *InMemoryStore) GetOrder(ctx context.Context, orderNumber string) (Order, error) {
	const op = "billing.GetOrder"
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, invalid(op, "order number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNumber]
	if !ok {
		return Order{}, NotFoundError{Op: op, Resource: "order"}
	}
	return o, nil
}

func (s *InMemoryStore) MarkOrderFulfilled(ctx context.Context, orderNumber string, paidAt time.Time) (Order, error) {
	const op = "billing.MarkOrderFulfilled"
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, invalid(op, "order number is required")
	}
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNumber]
	if !ok {
		return Order{}, NotFoundError{Op: op, Resource: "order"}
	}
	o.FulfillmentStatus = FulfillmentFulfilled
	o.PaymentStatus = OrderPaid
	if o.PaidAt == nil {
		t := paidAt.UTC()
		o.PaidAt = &t
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderNumber] = o
	return o, nil
}

func (s *InMemoryStore) UpsertPayment(ctx context.Context, p Payment) (UpsertPaymentResult, error) {
	const op = "billing.UpsertPayment"
	if err := ctx.Err(); err != nil {
		return UpsertPaymentResult{}, err
	}
	p, err := normalizePayment(op, p)
	if err != nil {
		return UpsertPaymentResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.payments[p.Reference]
	if exists {
		p.CreatedAt = prev.CreatedAt
	}
	p.Metadata = maps.Clone(p.Metadata)
	s.payments[p.Reference] = p
	return UpsertPaymentResult{Payment: p, Inserted: !exists}, nil
}

func (s *InMemoryStore) GetPayment(ctx context.Context, reference string) (Payment, error) {
	const op = "billing.GetPayment"
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Payment{}, invalid(op, "reference is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[reference]
	if !ok {
		return Payment{}, NotFoundError{Op: op, Resource: "payment"}
	}
	return p, nil
}

func (s *InMemoryStore) InsertRegistration(ctx context.Context, r Registration) (Registration, error) {
	const op = "billing.InsertRegistration"
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	r, err := normalizeRegistration(op, r)
	if err != nil {
		return Registration{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations = append(s.registrations, r)
	return r, nil
}

func (s *InMemoryStore) ListUnreconciled(ctx context.Context, limit int) ([]Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Payment
	for _, p := range s.payments {
		if p.Status != PaymentSuccessful || p.OrderNumber == nil {
			continue
		}
		o, ok := s.orders[*p.OrderNumber]
		if !ok || o.Fulfilled() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Reference < out[j].Reference
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PaymentCount returns the number of stored payment records.
func (s *InMemoryStore) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// Registrations returns a copy of the registration rows in insertion order.
func (s *InMemoryStore) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Registration(nil), s.registrations...)
}
