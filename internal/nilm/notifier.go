package nilm

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is how many undelivered events a subscriber may
// accumulate before the hub starts dropping on its behalf.
const subscriberBuffer = 64

// Hub fans appearance events out to subscribers. Publishing never
// blocks: a subscriber that stops draining its channel misses events
// rather than stalling detection.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan AppearanceEvent
	closed bool
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan AppearanceEvent)}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The caller must Unsubscribe with the id when done.
func (h *Hub) Subscribe() (string, <-chan AppearanceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	ch := make(chan AppearanceEvent, subscriberBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish delivers an event to every subscriber that has room.
func (h *Hub) Publish(ev AppearanceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is not keeping up, drop
		}
	}
}

// SubscriberCount reports how many subscribers are registered.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down, closing every subscriber channel. Subscribe
// after Close returns an already-closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
