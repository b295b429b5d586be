package events

import (
	"sync"
)

// Event types.
const (
	TypePress   = "press"
	TypeMapping = "mapping"
	TypeRun     = "run"
)

// defaultBuffer is the per-subscriber queue length.
const defaultBuffer = 32

// Event is one notification to subscribers.
type Event struct {
	// Type names the event for the SSE "event:" line.
	Type string
	// Data is JSON-encodable payload.
	Data any
}

// Hub broadcasts events to subscribers. Slow subscribers lose events
// instead of blocking the publisher.
type Hub struct {
	subscribers map[chan Event]struct{}
	buffer      int
	mu          sync.Mutex
}

// NewHub creates a hub. buffer is the queue length of each subscriber,
// defaulting to 32.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a subscriber. The returned cancel function removes it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()

			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it and returns
// the number of subscribers that dropped it.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}

	return dropped
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}
