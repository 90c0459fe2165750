package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/domain"
)

// Hub fans workflow events out to every registered subscriber. Each
// subscriber gets its own bounded channel; a full channel drops the
// frame so a stalled client never blocks the workflow engine.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]chan domain.Event
	nextID  int64
	buffer  int
	dropped atomic.Int64
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[int64]chan domain.Event),
		buffer: buffer,
	}
}

// Register adds a subscriber and returns its id plus receive channel.
func (h *Hub) Register() (int64, <-chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan domain.Event, h.buffer)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
}

// Publish delivers the event to every subscriber. Timestamp is stamped
// here when the caller left it zero.
func (h *Hub) Publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many frames were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
