package fulfillment

import (
	"strings"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/payment/provider"

	"github.com/shopspring/decimal"
)

// Source tells where an Outcome came from.
type Source string

const (
	SourceLive      Source = "live"
	SourceStored    Source = "stored"
	SourceDevBypass Source = "dev-bypass"
)

const (
	devProviderName = "dev"
	devChannel      = "dev-bypass"
	devRefPrefix    = "DEV-"
)

// VerifyRequest is the input of Verify.
type VerifyRequest struct {
	Provider      string
	Reference     string
	TransactionID string
}

func (r VerifyRequest) normalized() VerifyRequest {
	return VerifyRequest{
		Provider:      strings.ToLower(strings.TrimSpace(r.Provider)),
		Reference:     strings.TrimSpace(r.Reference),
		TransactionID: strings.TrimSpace(r.TransactionID),
	}
}

// CompleteRequest is the input of the development bypass.
type CompleteRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Customer provider.Customer
	Meta     map[string]any
}

// UserData is the buyer context echoed back when profile creation fails,
// so the client can retry provisioning without asking again.
type UserData struct {
	Name             string
	Email            string
	Phone            string
	Organization     string
	Role             string
	AttendanceReason string
	Industry         string
	DietaryNeeds     string
}

// Outcome is the result of Verify, Complete and Status.
type Outcome struct {
	Result provider.Result
	Source Source

	// Verified means the gateway confirmed the payment and the payment record is stored.
	Verified bool

	OrderNumber  string
	OrderUpdated bool

	// IsNewUser is nil when provisioning did not run.
	IsNewUser             *bool
	Profile               *identity.Profile
	ProfileCreationFailed bool
	ProfileCreationError  string
	UserData              *UserData
}

// StatusUpdate is published after every verification outcome.
type StatusUpdate struct {
	Reference   string
	Provider    string
	Status      provider.Status
	Verified    bool
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	At          time.Time
}

// StatusPublisher receives status updates. Implementations must not block.
type StatusPublisher interface {
	PublishStatus(u StatusUpdate)
}

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Scanned int
	Fixed   int
	Failed  int
}

func boolPtr(b bool) *bool { return &b }
