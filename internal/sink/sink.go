package sink

import (
	"sync"
	"sync/atomic"

	"github.com/streamvoice/live-dialog-service/internal/dispatch"
	"github.com/streamvoice/live-dialog-service/internal/merge"
)

// Subscriber receives transcription output as it is produced.
type Subscriber interface {
	// OnUpdate is called for every retained result, partial and final.
	OnUpdate(r dispatch.Result)

	// OnTurnClosed is called when the merger closes a dialog turn.
	OnTurnClosed(t merge.Turn)
}

// Hub fans transcription output out to subscribers. Delivery is synchronous
// and in publish order; slow subscribers should buffer internally.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int

	updates atomic.Uint64
	turns   atomic.Uint64
}

// HubStats represents hub statistics.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Updates     uint64 `json:"updates"`
	Turns       uint64 `json:"turns"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber and returns its id for Unsubscribe.
func (h *Hub) Subscribe(s Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subscribers[id] = s
	return id
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// PublishUpdate delivers a result to all subscribers.
func (h *Hub) PublishUpdate(r dispatch.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.updates.Add(1)
	for _, s := range h.subscribers {
		s.OnUpdate(r)
	}
}

// PublishTurn delivers a closed turn to all subscribers.
func (h *Hub) PublishTurn(t merge.Turn) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.turns.Add(1)
	for _, s := range h.subscribers {
		s.OnTurnClosed(t)
	}
}

// GetStats returns current hub statistics.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		Subscribers: len(h.subscribers),
		Updates:     h.updates.Load(),
		Turns:       h.turns.Load(),
	}
}
