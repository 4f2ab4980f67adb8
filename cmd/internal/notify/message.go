package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates message payloads.
type Kind string

const (
	KindTicketConfirmation Kind = "ticket_confirmation"
	KindWelcome            Kind = "welcome"
)

var (
	ErrInvalidMessage = errors.New("notify: invalid message")
	ErrQueueFull      = errors.New("notify: queue full")
	ErrClosed         = errors.New("notify: dispatcher closed")
)

// TicketItem is one purchased ticket line.
type TicketItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// TicketConfirmation is sent for every successful payment.
type TicketConfirmation struct {
	To          string          `json:"to"`
	Name        string          `json:"name"`
	Reference   string          `json:"reference"`
	OrderNumber string          `json:"order_number,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Items       []TicketItem    `json:"items,omitempty"`
	PaidAt      time.Time       `json:"paid_at"`
}

// Welcome is sent once, when a buyer profile is created.
type Welcome struct {
	To         string `json:"to"`
	Name       string `json:"name"`
	ProfileURL string `json:"profile_url"`
}

// Message is the unit handed to a Dispatcher.
type Message struct {
	Kind    Kind                `json:"kind"`
	Ticket  *TicketConfirmation `json:"ticket,omitempty"`
	Welcome *Welcome            `json:"welcome,omitempty"`
}

// NewTicketConfirmation wraps tc in a Message.
func NewTicketConfirmation(tc TicketConfirmation) Message {
	return Message{Kind: KindTicketConfirmation, Ticket: &tc}
}

// NewWelcome wraps w in a Message.
func NewWelcome(w Welcome) Message {
	return Message{Kind: KindWelcome, Welcome: &w}
}

// Recipient returns the destination address.
func (m Message) Recipient() string {
	switch {
	case m.Kind == KindTicketConfirmation && m.Ticket != nil:
		return strings.TrimSpace(m.Ticket.To)
	case m.Kind == KindWelcome && m.Welcome != nil:
		return strings.TrimSpace(m.Welcome.To)
	default:
		return ""
	}
}

// Validate checks that the payload matches Kind and has a recipient.
func (m Message) Validate() error {
	switch m.Kind {
	case KindTicketConfirmation:
		if m.Ticket == nil {
			return fmt.Errorf("%w: missing ticket payload", ErrInvalidMessage)
		}
	case KindWelcome:
		if m.Welcome == nil {
			return fmt.Errorf("%w: missing welcome payload", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	if !strings.Contains(m.Recipient(), "@") {
		return fmt.Errorf("%w: invalid recipient", ErrInvalidMessage)
	}
	return nil
}

// Sender performs the actual delivery.
type Sender interface {
	SendTicketConfirmation(ctx context.Context, tc TicketConfirmation) error
	SendWelcome(ctx context.Context, w Welcome) error
}

// Dispatcher accepts messages for asynchronous delivery. Enqueue must not block on delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// Deliver routes msg to the matching Sender method.
func Deliver(ctx context.Context, s Sender, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch msg.Kind {
	case KindTicketConfirmation:
		return s.SendTicketConfirmation(ctx, *msg.Ticket)
	default:
		return s.SendWelcome(ctx, *msg.Welcome)
	}
}
