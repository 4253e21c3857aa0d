// Package broadcast fans coordinator state changes out to attached
// observers (dashboards, log tails). Observers are decoupled by buffered
// channels; a dead or stuck observer is pruned instead of blocking the
// publisher.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one typed state-change notification.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// SnapshotFunc supplies the full current state delivered to a freshly
// attached observer as its first event.
type SnapshotFunc func() any

const (
	observerBuffer = 128
	// Consecutive dropped sends after which an observer is considered dead.
	pruneThreshold = 32
)

type observer struct {
	ch     chan Event
	misses int
}

type Hub struct {
	mu        sync.Mutex
	observers map[string]*observer
	snapshot  SnapshotFunc
	closed    bool
}

func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		observers: make(map[string]*observer),
		snapshot:  snapshot,
	}
}

// Attach registers an observer and delivers the snapshot as its first
// message. The returned detach func guarantees no further deliveries.
func (h *Hub) Attach() (<-chan Event, func()) {
	obs := &observer{ch: make(chan Event, observerBuffer)}
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(obs.ch)
		return obs.ch, func() {}
	}
	h.observers[id] = obs
	var snap any
	if h.snapshot != nil {
		snap = h.snapshot()
	}
	obs.ch <- Event{Type: "snapshot", Timestamp: time.Now().UTC(), Data: snap}
	h.mu.Unlock()

	return obs.ch, func() { h.detach(id) }
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obs, ok := h.observers[id]
	if !ok {
		return
	}
	delete(h.observers, id)
	close(obs.ch)
}

// Publish delivers evt to every observer without blocking. Observers that
// keep missing deliveries are pruned.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, obs := range h.observers {
		select {
		case obs.ch <- evt:
			obs.misses = 0
		default:
			obs.misses++
			if obs.misses >= pruneThreshold {
				delete(h.observers, id)
				close(obs.ch)
			}
		}
	}
}

func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Close detaches every observer; subsequent publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, obs := range h.observers {
		delete(h.observers, id)
		close(obs.ch)
	}
}
