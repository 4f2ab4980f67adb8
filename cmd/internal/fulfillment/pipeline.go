package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/identity/ids"
	"ticketpay/cmd/internal/billing"
	"ticketpay/cmd/internal/notify"
	"ticketpay/cmd/internal/payment/provider"
)

// fulfill runs the post-confirmation steps for a successful result.
// Only the payment upsert can fail the request; the rest degrade into flags and logs.
func (s *Service) fulfill(ctx context.Context, res provider.Result, src Source) (Outcome, error) {
	out := Outcome{Result: res, Source: src, OrderNumber: res.OrderID()}

	paidAt := s.now()
	if res.PaidAt != nil && !res.PaidAt.IsZero() {
		paidAt = res.PaidAt.UTC()
	}

	if _, err := s.billing.UpsertPayment(ctx, paymentFromResult(res, out.OrderNumber, paidAt)); err != nil {
		s.metrics.verifications.WithLabelValues(res.Provider, outcomeStoreError).Inc()
		s.log.Error("payments.verify.payment_upsert.fail", "provider", res.Provider, "reference", res.Reference, "err", err)
		return out, fmt.Errorf("%w: %w", ErrPaymentNotRecorded, err)
	}
	out.Verified = true

	order := s.fulfillOrder(ctx, &out, paidAt)
	md := mergedMetadata(res.Metadata, order)

	s.provisionProfile(ctx, &out, md)
	s.recordRegistration(ctx, out)
	s.dispatchNotifications(ctx, out, md, paidAt)

	s.metrics.verifications.WithLabelValues(res.Provider, outcomeVerified).Inc()
	s.log.Info("payments.verify.ok",
		"provider", res.Provider,
		"reference", res.Reference,
		"source", src,
		"order_number", out.OrderNumber,
		"order_updated", out.OrderUpdated,
		"is_new_user", out.IsNewUser != nil && *out.IsNewUser,
		"profile_creation_failed", out.ProfileCreationFailed,
	)
	s.publish(out)
	return out, nil
}

func paymentFromResult(res provider.Result, orderNumber string, paidAt time.Time) billing.Payment {
	p := billing.Payment{
		Reference:     res.Reference,
		Provider:      res.Provider,
		Status:        billing.PaymentStatus(res.Status),
		Amount:        res.Amount,
		Currency:      res.Currency,
		CustomerEmail: res.Customer.Email,
		CustomerName:  res.Customer.Name,
		Channel:       res.Channel,
		PaidAt:        &paidAt,
		Metadata:      billing.Metadata(res.Metadata),
	}
	if phone := strings.TrimSpace(res.Customer.Phone); phone != "" {
		p.CustomerPhone = &phone
	}
	if orderNumber != "" {
		p.OrderNumber = &orderNumber
	}
	return p
}

// fulfillOrder moves the linked order forward. A missing id, a missing order or a
// store failure is logged and tolerated.
func (s *Service) fulfillOrder(ctx context.Context, out *Outcome, paidAt time.Time) *billing.Order {
	if out.OrderNumber == "" {
		s.log.Warn("payments.verify.order_id_missing", "reference", out.Result.Reference)
		return nil
	}

	o, err := s.billing.MarkOrderFulfilled(ctx, out.OrderNumber, paidAt)
	if err != nil {
		s.metrics.sideEffectFailures.WithLabelValues(stepOrder).Inc()
		if billing.IsNotFound(err) {
			s.log.Warn("payments.verify.order_missing", "reference", out.Result.Reference, "order_number", out.OrderNumber)
		} else {
			s.log.Error("payments.verify.order_update.fail", "reference", out.Result.Reference, "order_number", out.OrderNumber, "err", err)
		}
		return nil
	}
	out.OrderUpdated = true
	return &o
}

// provisionProfile looks the buyer up, then relies on the insert's uniqueness
// constraint to decide whether this call created the profile.
func (s *Service) provisionProfile(ctx context.Context, out *Outcome, md billing.Metadata) {
	c := out.Result.Customer

	fail := func(err error) {
		s.metrics.sideEffectFailures.WithLabelValues(stepProfile).Inc()
		s.log.Error("payments.verify.profile_create.fail", "reference", out.Result.Reference, "email", c.Email, "err", err)
		out.IsNewUser = boolPtr(false)
		out.ProfileCreationFailed = true
		out.ProfileCreationError = err.Error()
		out.UserData = userDataFrom(c, md)
	}

	if identity.NormalizeEmail(c.Email) == "" {
		fail(fmt.Errorf("customer email missing from payment result"))
		return
	}

	existing, err := s.profiles.GetProfileByEmail(ctx, c.Email)
	if err == nil {
		out.IsNewUser = boolPtr(false)
		out.Profile = &existing
		return
	}
	if !identity.IsNotFound(err) {
		s.log.Warn("payments.verify.profile_lookup.fail", "reference", out.Result.Reference, "err", err)
	}

	created, err := s.profiles.CreateProfile(ctx, identity.CreateProfileInput{
		Email:        c.Email,
		DisplayName:  c.Name,
		Phone:        optional(c.Phone),
		Organization: md.StringPtr("organization", "company"),
		Industry:     md.StringPtr("industry"),
		BaseURL:      s.cfg.PublicBaseURL,
		Now:          s.now(),
	})
	switch {
	case err == nil:
		out.IsNewUser = boolPtr(true)
		out.Profile = &created
	case identity.IsEmailConflict(err):
		out.IsNewUser = boolPtr(false)
		if p, gerr := s.profiles.GetProfileByEmail(ctx, c.Email); gerr == nil {
			out.Profile = &p
		}
		s.log.Info("payments.verify.profile_exists", "reference", out.Result.Reference)
	default:
		fail(err)
	}
}

func (s *Service) recordRegistration(ctx context.Context, out Outcome) {
	c := out.Result.Customer
	reg := billing.Registration{
		Reference: out.Result.Reference,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     optional(c.Phone),
		Amount:    out.Result.Amount,
		Currency:  out.Result.Currency,
	}
	if out.OrderNumber != "" {
		on := out.OrderNumber
		reg.OrderNumber = &on
	}
	if _, err := s.billing.InsertRegistration(ctx, reg); err != nil {
		s.metrics.sideEffectFailures.WithLabelValues(stepRegistration).Inc()
		s.log.Warn("payments.verify.registration.fail", "reference", out.Result.Reference, "err", err)
	}
}

// dispatchNotifications hands emails to the notifier; it never waits for delivery.
func (s *Service) dispatchNotifications(ctx context.Context, out Outcome, md billing.Metadata, paidAt time.Time) {
	if s.notifier == nil {
		return
	}
	c := out.Result.Customer

	msgs := []notify.Message{notify.NewTicketConfirmation(notify.TicketConfirmation{
		To:          c.Email,
		Name:        displayName(c),
		Reference:   out.Result.Reference,
		OrderNumber: out.OrderNumber,
		Amount:      out.Result.Amount,
		Currency:    out.Result.Currency,
		Items:       ticketItems(md),
		PaidAt:      paidAt,
	})}
	if out.IsNewUser != nil && *out.IsNewUser && out.Profile != nil {
		msgs = append(msgs, notify.NewWelcome(notify.Welcome{
			To:         c.Email,
			Name:       displayName(c),
			ProfileURL: out.Profile.PublicURL,
		}))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyEnqueueTimeout)
	defer cancel()
	for _, m := range msgs {
		if err := s.notifier.Enqueue(ctx, m); err != nil {
			s.metrics.sideEffectFailures.WithLabelValues(stepNotify).Inc()
			s.log.Warn("payments.verify.notify.enqueue.fail", "reference", out.Result.Reference, "kind", m.Kind, "err", err)
		}
	}
}

func (s *Service) publish(out Outcome) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishStatus(StatusUpdate{
		Reference:   out.Result.Reference,
		Provider:    out.Result.Provider,
		Status:      out.Result.Status,
		Verified:    out.Verified,
		OrderNumber: out.OrderNumber,
		Amount:      out.Result.Amount,
		Currency:    out.Result.Currency,
		At:          s.now(),
	})
}

// mergedMetadata layers order metadata (buyer context captured at checkout) over gateway metadata.
func mergedMetadata(gateway map[string]any, order *billing.Order) billing.Metadata {
	md := make(billing.Metadata, len(gateway))
	for k, v := range gateway {
		md[k] = v
	}
	if order != nil {
		for k, v := range order.Metadata {
			md[k] = v
		}
	}
	return md
}

func userDataFrom(c provider.Customer, md billing.Metadata) *UserData {
	return &UserData{
		Name:             c.Name,
		Email:            c.Email,
		Phone:            c.Phone,
		Organization:     md.String("organization", "company"),
		Role:             md.String("role", "jobTitle", "job_title"),
		AttendanceReason: md.String("attendanceReason", "attendance_reason", "reason"),
		Industry:         md.String("industry"),
		DietaryNeeds:     md.String("dietaryNeeds", "dietary_needs", "dietaryRequirements", "dietary_requirements"),
	}
}

func ticketItems(md billing.Metadata) []notify.TicketItem {
	items := md.Items()
	out := make([]notify.TicketItem, 0, len(items))
	for _, it := range items {
		out = append(out, notify.TicketItem{Name: it.Name, Quantity: it.Quantity})
	}
	return out
}

func displayName(c provider.Customer) string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	email := identity.NormalizeEmail(c.Email)
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return "there"
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func newDevReference(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", fmt.Errorf("fulfillment: dev reference: %w", err)
	}
	return devRefPrefix + id, nil
}
