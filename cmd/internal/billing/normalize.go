package billing

import (
	"strings"
	"time"

	"ticketpay/cmd/identity/ids"
)

const defaultReconcileLimit = 100

func normalizeNewOrder(op string, o Order) (Order, error) {
	o.OrderNumber = strings.TrimSpace(o.OrderNumber)
	if o.OrderNumber == "" {
		return Order{}, invalid(op, "order number is required")
	}
	if o.FulfillmentStatus == "" {
		o.FulfillmentStatus = FulfillmentPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = OrderUnpaid
	}
	if o.Metadata == nil {
		o.Metadata = Metadata{}
	}
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))

	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	return o, nil
}

func normalizePayment(op string, p Payment) (Payment, error) {
	p.Reference = strings.TrimSpace(p.Reference)
	if p.Reference == "" {
		return Payment{}, invalid(op, "reference is required")
	}
	p.Provider = strings.TrimSpace(p.Provider)
	if p.Provider == "" {
		return Payment{}, invalid(op, "provider is required")
	}
	if !p.Status.Valid() {
		return Payment{}, invalid(op, "invalid payment status")
	}
	if p.Metadata == nil {
		p.Metadata = Metadata{}
	}
	if p.OrderNumber != nil {
		on := strings.TrimSpace(*p.OrderNumber)
		if on == "" {
			p.OrderNumber = nil
		} else {
			p.OrderNumber = &on
		}
	}
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.CustomerEmail = strings.TrimSpace(p.CustomerEmail)
	p.CustomerName = strings.TrimSpace(p.CustomerName)

	now := time.Now().UTC()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	return p, nil
}

func normalizeRegistration(op string, r Registration) (Registration, error) {
	r.Reference = strings.TrimSpace(r.Reference)
	if r.Reference == "" {
		return Registration{}, invalid(op, "reference is required")
	}
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return Registration{}, invalid(op, "email is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Status == "" {
		r.Status = RegistrationConfirmed
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = RegistrationPaid
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ID == "" {
		id, err := ids.NewULID(r.CreatedAt)
		if err != nil {
			return Registration{}, err
		}
		r.ID = id
	}
	return r, nil
}
