package realtime

import (
	"sync"

	v1 "ticketpay/shared/contracts/payments/v1"
)

// Topic is the set of sessions watching one payment reference.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Topic struct {
	Reference string

	mu      sync.RWMutex
	members map[string]*Client
}

func newTopic(reference string) *Topic {
	return &Topic{
		Reference: reference,
		members:   make(map[string]*Client),
	}
}

// Join adds a client to the topic.
func (t *Topic) Join(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}
	t.mu.Lock()
	t.members[client.SessionID] = client
	t.mu.Unlock()
}

// Leave removes a session and returns how many members remain.
// Unlike a disconnect, leaving one topic does not close the client.
func (t *Topic) Leave(sessionID string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members, sessionID)
	return len(t.members)
}

// Len returns the current member count.
func (t *Topic) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Broadcast fans env out to all members and reports deliveries and drops.
func (t *Topic) Broadcast(env v1.Envelope) (delivered, dropped int) {
	if t == nil {
		return 0, 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, m := range t.members {
		if m == nil {
			continue
		}
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
