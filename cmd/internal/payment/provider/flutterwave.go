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

// FlutterwaveBaseURL is the production Flutterwave API.
const FlutterwaveBaseURL = "https://api.flutterwave.com"

// Flutterwave verifies transactions by id, or by tx_ref when no id is supplied.
type Flutterwave struct {
	c client
}

// NewFlutterwave constructs a Flutterwave adapter. An empty secret yields an unconfigured adapter.
func NewFlutterwave(secretKey string, opts ...Option) *Flutterwave {
	return &Flutterwave{c: newClient(FlutterwaveBaseURL, secretKey, opts)}
}

func (f *Flutterwave) Name() string { return NameFlutterwave }

func (f *Flutterwave) IsConfigured() bool { return f != nil && f.c.secret != "" }

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	Status      string          `json:"status"`
	TxRef       string          `json:"tx_ref"`
	Amount      json.Number     `json:"amount"`
	Currency    string          `json:"currency"`
	CreatedAt   string          `json:"created_at"`
	PaymentType string          `json:"payment_type"`
	ProcessorRS string          `json:"processor_response"`
	Meta        json.RawMessage `json:"meta"`
	Customer    struct {
		Email       string `json:"email"`
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
	} `json:"customer"`
}

// Verify fetches the transaction and maps it to a canonical Result.
// The returned tx_ref must match reference, otherwise the result is failed.
func (f *Flutterwave) Verify(ctx context.Context, reference, transactionID string) (Result, error) {
	if !f.IsConfigured() {
		return Result{}, fmt.Errorf("%s: %w", NameFlutterwave, ErrNotConfigured)
	}
	reference = strings.TrimSpace(reference)
	transactionID = strings.TrimSpace(transactionID)

	endpoint := f.c.baseURL + "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if transactionID != "" {
		endpoint = f.c.baseURL + "/v3/transactions/" + url.PathEscape(transactionID) + "/verify"
	}

	status, body, err := f.c.getJSON(ctx, NameFlutterwave, endpoint)
	if err != nil {
		return Result{}, err
	}

	var env flutterwaveEnvelope
	if err := json.Unmarshal(body, &env); err != nil && status == http.StatusOK {
		return Result{}, unavailable(NameFlutterwave, fmt.Errorf("decode envelope: %w", err))
	}
	if status != http.StatusOK || !strings.EqualFold(env.Status, "success") {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = fmt.Sprintf("verification failed (status %d)", status)
		}
		return failed(NameFlutterwave, reference, msg), nil
	}

	var tx flutterwaveTransaction
	dec := json.NewDecoder(strings.NewReader(string(env.Data)))
	dec.UseNumber()
	if err := dec.Decode(&tx); err != nil {
		return Result{}, unavailable(NameFlutterwave, fmt.Errorf("decode transaction: %w", err))
	}

	if reference != "" && tx.TxRef != reference {
		return failed(NameFlutterwave, reference, "transaction reference mismatch"), nil
	}

	amount, err := decimal.NewFromString(tx.Amount.String())
	if err != nil {
		amount = decimal.Zero
	}

	res := Result{
		Status:    flutterwaveStatus(tx.Status),
		Provider:  NameFlutterwave,
		Reference: reference,
		Amount:    amount,
		Currency:  strings.ToUpper(tx.Currency),
		Customer: Customer{
			Email: strings.TrimSpace(tx.Customer.Email),
			Name:  strings.TrimSpace(tx.Customer.Name),
			Phone: strings.TrimSpace(tx.Customer.PhoneNumber),
		},
		PaidAt:   parseTime(tx.CreatedAt),
		Channel:  tx.PaymentType,
		Metadata: objectOrEmpty(tx.Meta),
	}
	if res.Reference == "" {
		res.Reference = tx.TxRef
	}
	res.Success = res.Status == StatusSuccessful
	if !res.Success {
		res.Error = strings.TrimSpace(tx.ProcessorRS)
		if res.Error == "" {
			res.Error = "payment " + string(res.Status)
		}
	}
	return res, nil
}

func flutterwaveStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "successful":
		return StatusSuccessful
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}
