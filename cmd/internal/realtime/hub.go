package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ticketpay/cmd/internal/fulfillment"
	v1 "ticketpay/shared/contracts/payments/v1"
)

// Hub routes payment status updates to the sessions subscribed to each reference.
// It implements fulfillment.StatusPublisher; publishing never blocks the caller.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic

	published atomic.Uint64
	dropped   atomic.Uint64
}

var _ fulfillment.StatusPublisher = (*Hub)(nil)

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		topics: make(map[string]*Topic),
	}
}

// Subscribe adds client to the topic for reference.
func (h *Hub) Subscribe(reference string, client *Client) {
	reference = strings.TrimSpace(reference)
	if reference == "" || client == nil {
		return
	}

	h.mu.Lock()
	t, ok := h.topics[reference]
	if !ok {
		t = newTopic(reference)
		h.topics[reference] = t
	}
	t.Join(client)
	h.mu.Unlock()

	h.log.Debug("ws.subscribe", "reference", reference, "session_id", client.SessionID)
}

// Unsubscribe removes a session from reference and drops the topic once empty.
func (h *Hub) Unsubscribe(reference, sessionID string) {
	reference = strings.TrimSpace(reference)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[reference]
	if !ok {
		return
	}
	if t.Leave(sessionID) == 0 {
		delete(h.topics, reference)
	}
}

// Subscribers returns the number of sessions watching reference.
func (h *Hub) Subscribers(reference string) int {
	h.mu.RLock()
	t := h.topics[strings.TrimSpace(reference)]
	h.mu.RUnlock()
	return t.Len()
}

// Topics returns the number of references with at least one subscriber.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// PublishStatus implements fulfillment.StatusPublisher.
func (h *Hub) PublishStatus(u fulfillment.StatusUpdate) {
	h.mu.RLock()
	t := h.topics[u.Reference]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	env, err := statusEnvelope(u)
	if err != nil {
		h.log.Error("ws.publish.encode.fail", "reference", u.Reference, "err", err)
		return
	}
	delivered, dropped := t.Broadcast(env)
	h.published.Add(uint64(delivered))
	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
		h.log.Warn("ws.publish.dropped", "reference", u.Reference, "dropped", dropped)
	}
}

// Stats returns how many envelopes were delivered to and dropped for subscribers.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func statusEnvelope(u fulfillment.StatusUpdate) (v1.Envelope, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload, err := json.Marshal(v1.PaymentStatusPayload{
		Reference:   u.Reference,
		Provider:    u.Provider,
		Status:      string(u.Status),
		Verified:    u.Verified,
		OrderNumber: u.OrderNumber,
		Amount:      u.Amount.String(),
		Currency:    u.Currency,
		At:          at,
	})
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("realtime: encode payment_status: %w", err)
	}
	env := newEnvelope(v1.TypePaymentStatus, payload, at)
	env.Reference = u.Reference
	return env, nil
}
