package relay

import "sync"

// Message is one emitted event.
type Message struct {
	Event string `json:"event"`
	Line  string `json:"line"`
}

// Hub is an Emitter that fans events out to any number of subscribers.
// A subscriber whose buffer is full misses lines; the relay never blocks
// on a slow reader.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Message]struct{})}
}

func (h *Hub) Emit(event, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- Message{Event: event, Line: line}:
		default:
		}
	}
}

// Subscribe registers a new subscriber with the given buffer size.
// The returned cancel func unregisters and closes the channel; it is safe
// to call more than once.
func (h *Hub) Subscribe(buf int) (<-chan Message, func()) {
	if buf <= 0 {
		buf = 256
	}
	ch := make(chan Message, buf)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Close closes every subscriber channel. Later Emits are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
