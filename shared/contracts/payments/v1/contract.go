// Package v1 defines the payment status feed protocol (subprotocol "ticketpay.payments.v1").
//
// It has no dependencies outside the standard library so browser and server
// code can share one authoritative description of the wire format.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "ticketpay.payments.v1"

// Type constants (wire-stable).
const (
	// TypeSubscribe starts watching one payment reference (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribed confirms a subscription (server -> client).
	TypeSubscribed = "subscribed"
	// TypeUnsubscribe stops watching a reference (client -> server).
	TypeUnsubscribe = "unsubscribe"
	// TypeUnsubscribed confirms an unsubscribe (server -> client).
	TypeUnsubscribed = "unsubscribed"

	// TypePaymentStatus carries a verification outcome (server -> subscribers).
	TypePaymentStatus = "payment_status"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V         string          `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Reference string          `json:"ref,omitempty"`
	TS        time.Time       `json:"ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe,
		TypeSubscribed,
		TypeUnsubscribe,
		TypeUnsubscribed,
		TypePaymentStatus,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SubscribePayload names the reference to watch (also used by unsubscribe).
type SubscribePayload struct {
	Reference string `json:"reference"`
}

// SubscribedPayload acknowledges subscribe/unsubscribe.
type SubscribedPayload struct {
	Reference string `json:"reference"`
	SessionID string `json:"session_id"`
}

// PaymentStatusPayload mirrors one verification outcome.
// Amount is a decimal string to avoid float rounding in clients.
type PaymentStatusPayload struct {
	Reference   string    `json:"reference"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	Verified    bool      `json:"verified"`
	OrderNumber string    `json:"order_number,omitempty"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	At          time.Time `json:"at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
