package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Payment idempotency comes from ON CONFLICT (reference), not read-then-write.
// - Order flags are written with a single conditional UPDATE so they only move forward.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the billing store (default "ticketpay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("billing: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("billing: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "ticketpay"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("billing: nil pool")
	}
	return st, nil
}

const (
	orderColumns   = `order_number, fulfillment_status, payment_status, paid_at, amount, currency, metadata, created_at, updated_at`
	paymentColumns = `reference, provider, status, amount, currency, customer_email, customer_name, customer_phone, channel, paid_at, order_number, metadata, created_at, updated_at`
)

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// CreateOrder inserts a checkout order. Duplicate order numbers surface as ConflictError.
func (s *PostgresStore) CreateOrder(ctx context.Context, o Order) (Order, error) {
	const op = "billing.CreateOrder"

	o, err := normalizeNewOrder(op, o)
	if err != nil {
		return Order{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("orders")+` (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.OrderNumber, o.FulfillmentStatus, o.PaymentStatus, o.PaidAt, o.Amount, o.Currency, o.Metadata, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Order{}, ConflictError{Op: op, Field: "order_number"}
		}
		return Order{}, err
	}
	return o, nil
}

// GetOrder loads an order by its order number.
func (s *PostgresStore) GetOrder(ctx context.Context, orderNumber string) (Order, error) {
	const op = "billing.GetOrder"

	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, invalid(op, "order number is required")
	}

	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM `+s.table("orders")+` WHERE order_number = $1`, orderNumber)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, NotFoundError{Op: op, Resource: "order"}
		}
		return Order{}, err
	}
	return o, nil
}

// MarkOrderFulfilled sets fulfillment_status=fulfilled and payment_status=paid.
// paid_at keeps its first value; repeated calls are no-ops apart from updated_at.
func (s *PostgresStore) MarkOrderFulfilled(ctx context.Context, orderNumber string, paidAt time.Time) (Order, error) {
	const op = "billing.MarkOrderFulfilled"

	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, invalid(op, "order number is required")
	}
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.table("orders")+`
		 SET fulfillment_status = 'fulfilled',
		     payment_status = 'paid',
		     paid_at = COALESCE(paid_at, $2),
		     updated_at = now()
		 WHERE order_number = $1
		 RETURNING `+orderColumns,
		orderNumber, paidAt.UTC(),
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, NotFoundError{Op: op, Resource: "order"}
		}
		return Order{}, err
	}
	return o, nil
}

// UpsertPayment inserts or replaces the payment row for p.Reference.
// created_at is preserved across replacements.
func (s *PostgresStore) UpsertPayment(ctx context.Context, p Payment) (UpsertPaymentResult, error) {
	const op = "billing.UpsertPayment"

	p, err := normalizePayment(op, p)
	if err != nil {
		return UpsertPaymentResult{}, err
	}

	var inserted bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("payments")+` (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		 ON CONFLICT (reference) DO UPDATE SET
		   provider = EXCLUDED.provider,
		   status = EXCLUDED.status,
		   amount = EXCLUDED.amount,
		   currency = EXCLUDED.currency,
		   customer_email = EXCLUDED.customer_email,
		   customer_name = EXCLUDED.customer_name,
		   customer_phone = EXCLUDED.customer_phone,
		   channel = EXCLUDED.channel,
		   paid_at = EXCLUDED.paid_at,
		   order_number = EXCLUDED.order_number,
		   metadata = EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at, (xmax = 0)`,
		p.Reference, p.Provider, p.Status, p.Amount, p.Currency,
		p.CustomerEmail, p.CustomerName, p.CustomerPhone, p.Channel, p.PaidAt,
		p.OrderNumber, p.Metadata, p.UpdatedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt, &inserted)
	if err != nil {
		return UpsertPaymentResult{}, err
	}
	return UpsertPaymentResult{Payment: p, Inserted: inserted}, nil
}

// GetPayment loads a payment record by gateway reference.
func (s *PostgresStore) GetPayment(ctx context.Context, reference string) (Payment, error) {
	const op = "billing.GetPayment"

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Payment{}, invalid(op, "reference is required")
	}

	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM `+s.table("payments")+` WHERE reference = $1`, reference)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, NotFoundError{Op: op, Resource: "payment"}
		}
		return Payment{}, err
	}
	return p, nil
}

// InsertRegistration appends a registration tracking row.
func (s *PostgresStore) InsertRegistration(ctx context.Context, r Registration) (Registration, error) {
	const op = "billing.InsertRegistration"

	r, err := normalizeRegistration(op, r)
	if err != nil {
		return Registration{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("registrations")+`
		   (id, order_number, reference, name, email, phone, amount, currency, status, payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.OrderNumber, r.Reference, r.Name, r.Email, r.Phone, r.Amount, r.Currency, r.Status, r.PaymentStatus, r.CreatedAt,
	)
	if err != nil {
		return Registration{}, err
	}
	return r, nil
}

// ListUnreconciled returns successful payments whose linked order is not yet fulfilled and paid.
func (s *PostgresStore) ListUnreconciled(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	cols := "p." + strings.ReplaceAll(paymentColumns, ", ", ", p.")
	rows, err := s.pool.Query(ctx,
		`SELECT `+cols+`
		 FROM `+s.table("payments")+` p
		 JOIN `+s.table("orders")+` o ON o.order_number = p.order_number
		 WHERE p.status = 'successful'
		   AND (o.fulfillment_status <> 'fulfilled' OR o.payment_status <> 'paid')
		 ORDER BY p.updated_at ASC, p.reference ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Payment, 0, limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.OrderNumber, &o.FulfillmentStatus, &o.PaymentStatus, &o.PaidAt, &o.Amount, &o.Currency, &o.Metadata, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.Reference, &p.Provider, &p.Status, &p.Amount, &p.Currency,
		&p.CustomerEmail, &p.CustomerName, &p.CustomerPhone, &p.Channel, &p.PaidAt,
		&p.OrderNumber, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// SchemaSQL returns the billing DDL (orders, payments, registrations) for schema.
func SchemaSQL(schema string) string {
	orders := pgx.Identifier{schema, "orders"}.Sanitize()
	payments := pgx.Identifier{schema, "payments"}.Sanitize()
	registrations := pgx.Identifier{schema, "registrations"}.Sanitize()

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  order_number TEXT PRIMARY KEY,
  fulfillment_status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  paid_at TIMESTAMPTZ NULL,
  amount NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_orders_fulfillment_status CHECK (fulfillment_status IN ('pending', 'fulfilled')),
  CONSTRAINT chk_orders_payment_status CHECK (payment_status IN ('unpaid', 'paid'))
);

CREATE TABLE IF NOT EXISTS %[2]s (
  reference TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  status TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  customer_email TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  customer_phone TEXT NULL,
  channel TEXT NOT NULL DEFAULT '',
  paid_at TIMESTAMPTZ NULL,
  order_number TEXT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_payments_status CHECK (status IN ('successful', 'failed', 'pending'))
);

CREATE INDEX IF NOT EXISTS idx_payments_order_number ON %[2]s (order_number) WHERE order_number IS NOT NULL;

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  order_number TEXT NULL,
  reference TEXT NOT NULL,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  phone TEXT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_registrations_id_ulid_len CHECK (char_length(id) = 26)
);

CREATE INDEX IF NOT EXISTS idx_registrations_reference ON %[3]s (reference);
`, orders, payments, registrations)
}
