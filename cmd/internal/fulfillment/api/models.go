package payapi

import (
	"encoding/json"
	"time"

	"ticketpay/cmd/internal/fulfillment"
	"ticketpay/cmd/internal/payment/provider"

	"github.com/shopspring/decimal"
)

type verifyRequest struct {
	Provider      string `json:"provider"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transactionId,omitempty"`
}

type customerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type completeRequest struct {
	OrderID  string          `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer customerRequest `json:"customer"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

type userDataResponse struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone,omitempty"`
	Organization     string `json:"organization,omitempty"`
	Role             string `json:"role,omitempty"`
	AttendanceReason string `json:"attendanceReason,omitempty"`
	Industry         string `json:"industry,omitempty"`
	DietaryNeeds     string `json:"dietaryNeeds,omitempty"`
}

type verifyResponse struct {
	Success   bool              `json:"success"`
	Provider  string            `json:"provider"`
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Amount    json.Number       `json:"amount"`
	Currency  string            `json:"currency"`
	Customer  provider.Customer `json:"customer"`
	PaidAt    *time.Time        `json:"paidAt,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Verified  bool              `json:"verified"`
	Error     string            `json:"error,omitempty"`
	Source    string            `json:"source"`

	OrderNumber  string `json:"orderNumber,omitempty"`
	OrderUpdated bool   `json:"orderUpdated"`

	IsNewUser             *bool             `json:"isNewUser,omitempty"`
	ProfileURL            string            `json:"profileUrl,omitempty"`
	ProfileCreationFailed bool              `json:"profileCreationFailed,omitempty"`
	ProfileCreationError  string            `json:"profileCreationError,omitempty"`
	UserData              *userDataResponse `json:"userData,omitempty"`
}

type webhookAck struct {
	Received bool   `json:"received"`
	Verified bool   `json:"verified"`
	Ignored  string `json:"ignored,omitempty"`
}

// paystackEvent is the subset of a Paystack webhook the handler reads.
type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// flutterwaveEvent is the subset of a Flutterwave webhook the handler reads.
type flutterwaveEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID    json.Number `json:"id"`
		TxRef string      `json:"tx_ref"`
	} `json:"data"`
}

func toVerifyResponse(out fulfillment.Outcome) verifyResponse {
	res := out.Result
	resp := verifyResponse{
		Success:               res.Success,
		Provider:              res.Provider,
		Reference:             res.Reference,
		Status:                string(res.Status),
		Amount:                json.Number(res.Amount.String()),
		Currency:              res.Currency,
		Customer:              res.Customer,
		PaidAt:                res.PaidAt,
		Channel:               res.Channel,
		Verified:              out.Verified,
		Error:                 res.Error,
		Source:                string(out.Source),
		OrderNumber:           out.OrderNumber,
		OrderUpdated:          out.OrderUpdated,
		IsNewUser:             out.IsNewUser,
		ProfileCreationFailed: out.ProfileCreationFailed,
		ProfileCreationError:  out.ProfileCreationError,
	}
	if out.Profile != nil {
		resp.ProfileURL = out.Profile.PublicURL
	}
	if u := out.UserData; u != nil {
		resp.UserData = &userDataResponse{
			Name:             u.Name,
			Email:            u.Email,
			Phone:            u.Phone,
			Organization:     u.Organization,
			Role:             u.Role,
			AttendanceReason: u.AttendanceReason,
			Industry:         u.Industry,
			DietaryNeeds:     u.DietaryNeeds,
		}
	}
	return resp
}
