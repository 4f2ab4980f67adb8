// Package billing persists the payment side of ticket fulfillment: orders,
// payment records keyed by gateway reference, and registration tracking rows.
//
// Payment records are upserted by reference so any number of verifications of
// the same reference leave exactly one row reflecting the latest result. Order
// transitions are monotonic (pending→fulfilled, unpaid→paid) and never reverted.
package billing
