// Package fulfillment turns a gateway-confirmed payment into fulfilled tickets.
//
// Service.Verify runs the pipeline for one reference:
//
//  1. resolve and configuration-check the provider (hard failure, nothing written)
//  2. verify with the gateway; anything but "successful" stops here with no writes
//  3. upsert the payment record keyed by reference (idempotency anchor)
//  4. move the linked order to fulfilled/paid (failure tolerated, repaired by Reconcile)
//  5. provision the buyer profile (insert is the source of truth for "new user")
//  6. append a registration tracking row (failure logged only)
//  7. hand confirmation/welcome emails to the notifier (never awaited)
//
// The service holds no per-request state; every write is committed independently.
package fulfillment
