package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// PaystackBaseURL is the production Paystack API.
const PaystackBaseURL = "https://api.paystack.co"

// Paystack verifies transactions via GET /transaction/verify/{reference}.
type Paystack struct {
	c client
}

// NewPaystack constructs a Paystack adapter. An empty secret yields an unconfigured adapter.
func NewPaystack(secretKey string, opts ...Option) *Paystack {
	return &Paystack{c: newClient(PaystackBaseURL, secretKey, opts)}
}

func (p *Paystack) Name() string { return NamePaystack }

func (p *Paystack) IsConfigured() bool { return p != nil && p.c.secret != "" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          json.Number     `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          string          `json:"paid_at"`
	Channel         string          `json:"channel"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
	Customer        struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
}

// Verify fetches the transaction and maps it to a canonical Result.
func (p *Paystack) Verify(ctx context.Context, reference, _ string) (Result, error) {
	if !p.IsConfigured() {
		return Result{}, fmt.Errorf("%s: %w", NamePaystack, ErrNotConfigured)
	}
	reference = strings.TrimSpace(reference)

	status, body, err := p.c.getJSON(ctx, NamePaystack, p.c.baseURL+"/transaction/verify/"+url.PathEscape(reference))
	if err != nil {
		return Result{}, err
	}

	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil && status == http.StatusOK {
		return Result{}, unavailable(NamePaystack, fmt.Errorf("decode envelope: %w", err))
	}
	if status != http.StatusOK || !env.Status {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = fmt.Sprintf("verification failed (status %d)", status)
		}
		return failed(NamePaystack, reference, msg), nil
	}

	var tx paystackTransaction
	dec := json.NewDecoder(strings.NewReader(string(env.Data)))
	dec.UseNumber()
	if err := dec.Decode(&tx); err != nil {
		return Result{}, unavailable(NamePaystack, fmt.Errorf("decode transaction: %w", err))
	}

	res := Result{
		Status:    paystackStatus(tx.Status),
		Provider:  NamePaystack,
		Reference: reference,
		Amount:    minorToMajor(tx.Amount),
		Currency:  strings.ToUpper(tx.Currency),
		Customer: Customer{
			Email: strings.TrimSpace(tx.Customer.Email),
			Name:  strings.TrimSpace(strings.TrimSpace(tx.Customer.FirstName) + " " + strings.TrimSpace(tx.Customer.LastName)),
			Phone: strings.TrimSpace(tx.Customer.Phone),
		},
		PaidAt:   parseTime(tx.PaidAt),
		Channel:  tx.Channel,
		Metadata: objectOrEmpty(tx.Metadata),
	}
	res.Success = res.Status == StatusSuccessful
	if !res.Success {
		res.Error = strings.TrimSpace(tx.GatewayResponse)
		if res.Error == "" {
			res.Error = "payment " + string(res.Status)
		}
	}
	return res, nil
}

func paystackStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return StatusSuccessful
	case "failed", "abandoned", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// minorToMajor converts kobo/cents to major units.
func minorToMajor(n json.Number) decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-2)
}
