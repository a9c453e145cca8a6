package progress

import (
	"sync"

	"decodebook-backend/models"
)

const subscriberBuffer = 32

// Hub fans progress events out to live subscribers of a session
// Delivery is best-effort: nothing is stored, and events for a full or absent subscriber are dropped
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan models.ProgressEvent]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan models.ProgressEvent]struct{}),
	}
}

// Publish sends an event to every current subscriber of sessionID without blocking
// Events are sent under the lock so each subscriber observes them in publish order
func (h *Hub) Publish(sessionID string, event models.ProgressEvent) {
	if sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[sessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for sessionID
// The returned cancel func must be called to release the subscription; it closes the channel
func (h *Hub) Subscribe(sessionID string) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[chan models.ProgressEvent]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[sessionID], ch)
			if len(h.subscribers[sessionID]) == 0 {
				delete(h.subscribers, sessionID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscribers for sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}
