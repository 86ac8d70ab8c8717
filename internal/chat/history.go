package chat

import (
	"strings"
	"sync"

	"github.com/samber/lo"
)

// DefaultHistoryCapacity is the number of messages kept when no capacity is configured.
const DefaultHistoryCapacity = 100

// HistoryBuffer is a fixed-capacity ring of the most recent messages.
// Appends are O(1); once full, each append evicts the oldest entry.
type HistoryBuffer struct {
	mu    sync.RWMutex
	ring  []Message
	start int
	size  int
}

// NewHistoryBuffer returns an empty buffer holding at most capacity messages.
// A non-positive capacity falls back to DefaultHistoryCapacity.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryBuffer{ring: make([]Message, capacity)}
}

// Append adds msg as the newest entry.
func (h *HistoryBuffer) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = msg
		h.size++
		return
	}
	h.ring[h.start] = msg
	h.start = (h.start + 1) % capacity
}

// Snapshot returns a copy of the buffer, oldest first.
func (h *HistoryBuffer) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.copyLocked()
}

func (h *HistoryBuffer) copyLocked() []Message {
	out := make([]Message, h.size)
	capacity := len(h.ring)
	for i := 0; i < h.size; i++ {
		out[i] = h.ring[(h.start+i)%capacity]
	}
	return out
}

// Len reports how many messages are stored.
func (h *HistoryBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity reports the maximum number of stored messages.
func (h *HistoryBuffer) Capacity() int {
	return len(h.ring)
}

// Recent returns up to count of the newest messages, oldest first.
func (h *HistoryBuffer) Recent(count int) []Message {
	all := h.Snapshot()
	if count <= 0 || count >= len(all) {
		return all
	}
	return all[len(all)-count:]
}

// Page returns the messages of a 1-based page of the given size together with
// the total number of stored messages. Out-of-range pages are empty.
func (h *HistoryBuffer) Page(page, limit int) ([]Message, int) {
	all := h.Snapshot()
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return []Message{}, len(all)
	}
	if len(all) == 0 || page-1 > (len(all)-1)/limit {
		return []Message{}, len(all)
	}
	return lo.Subset(all, (page-1)*limit, uint(limit)), len(all)
}

// Search returns messages whose author or content contains query, ignoring case.
func (h *HistoryBuffer) Search(query string) []Message {
	needle := strings.ToLower(query)
	return lo.Filter(h.Snapshot(), func(m Message, _ int) bool {
		return strings.Contains(strings.ToLower(m.Body), needle) ||
			strings.Contains(strings.ToLower(m.Author), needle)
	})
}

// ByAuthor returns messages written by author.
func (h *HistoryBuffer) ByAuthor(author string) []Message {
	return lo.Filter(h.Snapshot(), func(m Message, _ int) bool { return m.Author == author })
}
