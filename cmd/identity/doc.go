// Package identity owns buyer profiles: the customer records provisioned after a
// confirmed ticket payment.
//
// A profile is keyed by normalized email. Creation is insert-first: the store's
// uniqueness constraint is the source of truth for "already exists", so callers
// never need a check-then-insert window.
package identity
