package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRenderTicketConfirmation(t *testing.T) {
	t.Parallel()

	body, err := render(ticketTmpl, TicketConfirmation{
		Name:        "Ada",
		Reference:   "REF-1",
		OrderNumber: "ORD-1",
		Amount:      decimal.NewFromInt(25000),
		Currency:    "NGN",
		Items:       []TicketItem{{Name: "VIP", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{"Hi Ada", "Reference: REF-1", "Order: ORD-1", "Amount: 25000.00 NGN", "2 x VIP"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	raw := string(buildMessage("tickets@example.com", "a@x.com", "Welcome", "line1\nline2\n", now))

	if !strings.HasPrefix(raw, "From: tickets@example.com\r\nTo: a@x.com\r\n") {
		t.Fatalf("unexpected headers:\n%q", raw)
	}
	if !strings.Contains(raw, "\r\n\r\nline1\r\nline2\r\n") {
		t.Fatalf("body not CRLF normalized:\n%q", raw)
	}
}

func TestNewSMTPSender_RequiresHostAndFrom(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatalf("expected error without From")
	}
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "t@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	if s.cfg.Port != 587 {
		t.Fatalf("Port = %d, want 587", s.cfg.Port)
	}
}
