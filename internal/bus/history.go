package bus

import "sync"

// DefaultHistoryLimit is the number of messages kept when no limit is set.
const DefaultHistoryLimit = 100

// History is a fixed-capacity FIFO of recently dispatched messages.
type History struct {
	mu    sync.RWMutex
	buf   []Message
	start int // index of the oldest entry
	size  int
}

// NewHistory creates a buffer holding at most capacity messages.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &History{buf: make([]Message, capacity)}
}

// Append records msg, evicting the oldest entry when full.
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the newest limit messages, oldest first.
// A limit of zero or less returns everything.
func (h *History) Snapshot(limit int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, n)
	skip := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+skip+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the buffer capacity.
func (h *History) Cap() int { return len(h.buf) }

// Clear drops every stored message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.buf {
		h.buf[i] = Message{}
	}
	h.start, h.size = 0, 0
}
