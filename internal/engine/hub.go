package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"synthex/internal/infra"
)

// Hub fans engine events out to subscribers. Delivery is best-effort,
// at-most-once: a subscriber whose buffer is full is disconnected rather
// than allowed to stall the broadcast. Reconnecting subscribers should
// request a fresh snapshot instead of relying on delta continuity.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]chan Event
	seq  atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and event
// channel. The channel is closed on Unsubscribe or when the subscriber
// lags.
func (h *Hub) Subscribe() (int64, <-chan Event) {
	id := h.seq.Add(1)
	ch := make(chan Event, 128)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	infra.GlobalMetrics.AddSubscriber(1)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		infra.GlobalMetrics.AddSubscriber(-1)
	}
}

// Broadcast delivers the event to every subscriber that can take it and
// drops the ones that cannot.
func (h *Hub) Broadcast(ev Event) {
	var lagging []int64

	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range lagging {
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
			infra.GlobalMetrics.AddSubscriber(-1)
			slog.Warn("disconnected lagging subscriber", slog.Int64("id", id))
		}
	}
	h.mu.Unlock()
}
