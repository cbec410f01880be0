// Package live turns repository writes into change notifications and runs
// queries that re-evaluate whenever their topic changes.
package live

import "sync"

// Topics published by the services.
const (
	TopicTrips   = "trips"
	TopicMatches = "matches"
)

// MessagesTopic is the topic of one match thread.
func MessagesTopic(matchID string) string {
	return "messages/" + matchID
}

// Hub fans change notifications out to listeners by topic.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[*listener]struct{}
	forward   func(topic string)
}

// listener receives coalesced notifications. The channel has capacity one:
// a burst of publishes while the listener is busy results in a single wake-up.
type listener struct {
	ch chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[*listener]struct{})}
}

// Publish notifies local listeners of topic and forwards the change to other
// instances when a relay is attached.
func (h *Hub) Publish(topic string) {
	h.Notify(topic)

	h.mu.RLock()
	forward := h.forward
	h.mu.RUnlock()
	if forward != nil {
		forward(topic)
	}
}

// Notify wakes local listeners of topic without forwarding.
func (h *Hub) Notify(topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for l := range h.listeners[topic] {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}

// SetForwarder installs the function that propagates published topics to
// other instances.
func (h *Hub) SetForwarder(fn func(topic string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forward = fn
}

// Listeners returns the number of listeners on topic.
func (h *Hub) Listeners(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[topic])
}

func (h *Hub) listen(topic string) (*listener, func()) {
	l := &listener{ch: make(chan struct{}, 1)}

	h.mu.Lock()
	set, ok := h.listeners[topic]
	if !ok {
		set = make(map[*listener]struct{})
		h.listeners[topic] = set
	}
	set[l] = struct{}{}
	h.mu.Unlock()

	return l, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[topic], l)
		if len(h.listeners[topic]) == 0 {
			delete(h.listeners, topic)
		}
	}
}
