// Package signature verifies inbound payment gateway webhooks.
//
// Supported schemes:
// - Paystack: x-paystack-signature = hex(HMAC-SHA512(body, secret key)).
// - Flutterwave: verif-hash header equals the secret hash configured on the dashboard.
//
// All comparisons are constant-time. A blank secret never verifies.
package signature
