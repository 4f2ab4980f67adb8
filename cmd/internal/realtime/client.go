package realtime

import (
	"sync"
	"sync/atomic"

	v1 "ticketpay/shared/contracts/payments/v1"
)

const defaultClientQueue = 64

// Client is one feed subscriber: a bounded outbound queue plus a stop signal.
// The server never closes Send; publishers race only against done.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	done    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
}

// NewClient constructs a Client whose queue holds queueSize envelopes.
func NewClient(sessionID string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = defaultClientQueue
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, queueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close marks the client gone. Safe to call more than once.
func (c *Client) Close() { c.stop.Do(func() { close(c.done) }) }

// Dropped counts envelopes refused because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// offer queues env without blocking. False means the client is gone or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}
