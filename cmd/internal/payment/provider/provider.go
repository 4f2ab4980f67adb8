// Package provider adapts payment gateways to one canonical verification result.
//
// No gateway-specific type crosses this package boundary: adapters translate
// native statuses, amounts and customer shapes into Result. A returned error
// means the gateway gave no usable answer (transport, decoding, 5xx). A gateway
// that answered "no" produces a Result with Success=false and Error set.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the canonical payment outcome.
type Status string

const (
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"
)

// Provider names accepted at the boundary.
const (
	NamePaystack    = "paystack"
	NameFlutterwave = "flutterwave"
)

var (
	// ErrUnknownProvider is returned for discriminators with no registered adapter.
	ErrUnknownProvider = errors.New("unknown_provider")
	// ErrNotConfigured is returned when an adapter lacks credentials.
	ErrNotConfigured = errors.New("provider_not_configured")
	// ErrProviderUnavailable wraps transport and upstream 5xx failures.
	ErrProviderUnavailable = errors.New("provider_unavailable")
)

// Provider verifies a payment reference against one gateway.
type Provider interface {
	Name() string
	// IsConfigured reports whether credentials are present. Callers check it before Verify.
	IsConfigured() bool
	Verify(ctx context.Context, reference, transactionID string) (Result, error)
}

// Customer is the buyer contact triple reported by the gateway.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Result is the canonical verification result.
type Result struct {
	Success   bool
	Status    Status
	Provider  string
	Reference string

	Amount   decimal.Decimal
	Currency string
	Customer Customer

	PaidAt   *time.Time
	Channel  string
	Metadata map[string]any

	Error string
}

var orderIDKeys = []string{"orderId", "order_id", "orderNumber", "order_number"}

// OrderID returns the checkout order number embedded in metadata, or "".
func (r Result) OrderID() string {
	for _, k := range orderIDKeys {
		switch v := r.Metadata[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

// failed builds a negative Result carrying a gateway message.
func failed(provider, reference, msg string) Result {
	return Result{
		Success:   false,
		Status:    StatusFailed,
		Provider:  provider,
		Reference: reference,
		Metadata:  map[string]any{},
		Error:     msg,
	}
}

func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, ErrProviderUnavailable, err)
}
