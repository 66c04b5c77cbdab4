package snapshot

import "sync"

const subscriberBuffer = 16

// Hub fans progress records out to subscribers without ever blocking the
// publisher. A subscriber that falls behind loses its oldest records.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Progress
	last   Progress
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Progress), last: Progress{Phase: PhaseIdle}}
}

func (h *Hub) Subscribe() (<-chan Progress, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Progress, subscriberBuffer)
	ch <- h.last
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *Hub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	for _, ch := range h.subs {
		select {
		case ch <- p:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

func (h *Hub) Current() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
