package fulfillment

import (
	"errors"

	"ticketpay/cmd/internal/payment/provider"
)

var (
	// ErrInvalidRequest marks shape validation failures (400 class).
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrNotFound is returned by Status when nothing is stored and no live fallback is possible.
	ErrNotFound = errors.New("not_found")
	// ErrDevBypassDisabled is returned by Complete outside development.
	ErrDevBypassDisabled = errors.New("dev_bypass_disabled")
	// ErrPaymentNotRecorded is returned when the gateway confirmed but the payment row could not be stored.
	ErrPaymentNotRecorded = errors.New("payment_not_recorded")

	ErrUnknownProvider       = provider.ErrUnknownProvider
	ErrProviderNotConfigured = provider.ErrNotConfigured
	ErrProviderUnavailable   = provider.ErrProviderUnavailable
)
