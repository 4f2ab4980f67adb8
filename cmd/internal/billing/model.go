package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FulfillmentStatus is the order-side ticket state.
type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentFulfilled FulfillmentStatus = "fulfilled"
)

// OrderPaymentStatus is the order-side payment flag.
type OrderPaymentStatus string

const (
	OrderUnpaid OrderPaymentStatus = "unpaid"
	OrderPaid   OrderPaymentStatus = "paid"
)

// PaymentStatus is the canonical gateway outcome stored on a payment record.
type PaymentStatus string

const (
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentPending    PaymentStatus = "pending"
)

// Valid reports whether s is one of the canonical statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentSuccessful, PaymentFailed, PaymentPending:
		return true
	default:
		return false
	}
}

// Metadata is the free-form attribute bag carried by orders and payments.
type Metadata map[string]any

// String returns the first non-empty string value among keys.
// Numbers are formatted so ids sent as JSON numbers still resolve.
func (m Metadata) String(keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		case int:
			s = strconv.Itoa(x)
		case int64:
			s = strconv.FormatInt(x, 10)
		case fmt.Stringer:
			s = x.String()
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// StringPtr is String returning nil for empty.
func (m Metadata) StringPtr(keys ...string) *string {
	s := m.String(keys...)
	if s == "" {
		return nil
	}
	return &s
}

// LineItem is a purchased ticket line inside order metadata.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Items extracts ticket lines from "items" or "tickets".
func (m Metadata) Items() []LineItem {
	var raw []any
	for _, k := range []string{"items", "tickets"} {
		if v, ok := m[k].([]any); ok {
			raw = v
			break
		}
	}
	out := make([]LineItem, 0, len(raw))
	for _, r := range raw {
		obj, ok := r.(map[string]any)
		if !ok {
			continue
		}
		md := Metadata(obj)
		it := LineItem{Name: md.String("name", "ticketType", "ticket_type", "title"), Quantity: 1}
		if q, err := strconv.Atoi(md.String("quantity", "qty")); err == nil && q > 0 {
			it.Quantity = q
		}
		if it.Name != "" {
			out = append(out, it)
		}
	}
	return out
}

// Order is a ticket purchase created at checkout and fulfilled by payment verification.
type Order struct {
	OrderNumber       string
	FulfillmentStatus FulfillmentStatus
	PaymentStatus     OrderPaymentStatus
	PaidAt            *time.Time

	Amount   decimal.Decimal
	Currency string
	Metadata Metadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fulfilled reports whether both order flags reached their terminal state.
func (o Order) Fulfilled() bool {
	return o.FulfillmentStatus == FulfillmentFulfilled && o.PaymentStatus == OrderPaid
}

// Payment is the durable record of one gateway verification, keyed by Reference.
type Payment struct {
	Reference string
	Provider  string
	Status    PaymentStatus

	Amount   decimal.Decimal
	Currency string

	CustomerEmail string
	CustomerName  string
	CustomerPhone *string

	Channel     string
	PaidAt      *time.Time
	OrderNumber *string
	Metadata    Metadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertPaymentResult reports the stored row and whether it was newly inserted.
type UpsertPaymentResult struct {
	Payment  Payment
	Inserted bool
}

// Registration is an append-only tracking row written per successful verification.
type Registration struct {
	ID          string
	OrderNumber *string
	Reference   string

	Name  string
	Email string
	Phone *string

	Amount   decimal.Decimal
	Currency string

	Status        string
	PaymentStatus string

	CreatedAt time.Time
}

const (
	RegistrationConfirmed = "confirmed"
	RegistrationPaid      = "paid"
)
