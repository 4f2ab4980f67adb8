// Package notify delivers buyer emails (ticket confirmation, welcome) off the request path.
//
// Callers hand a Message to a Dispatcher and return immediately. Two dispatchers exist:
// - Pool: in-process workers with bounded queue, retry and backoff.
// - QueueDispatcher: Redis-backed asynq tasks consumed by Worker, for multi-instance deployments.
//
// Delivery failures are logged by the executor and never reach the caller.
package notify
