package chat

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// TypingState tracks which display names are currently typing and when they
// last signalled it. It is owned by the engine goroutine and is not locked.
type TypingState struct {
	since map[string]time.Time
}

// NewTypingState returns an empty typing set.
func NewTypingState() *TypingState {
	return &TypingState{since: make(map[string]time.Time)}
}

// Start marks name as typing at now.
func (t *TypingState) Start(name string, now time.Time) {
	t.since[name] = now
}

// Stop clears name and reports whether it was typing.
func (t *TypingState) Stop(name string) bool {
	if _, ok := t.since[name]; !ok {
		return false
	}
	delete(t.since, name)
	return true
}

// Expire clears every entry whose last signal is older than timeout and
// returns the cleared names in sorted order.
func (t *TypingState) Expire(now time.Time, timeout time.Duration) []string {
	expired := lo.Keys(lo.PickBy(t.since, func(_ string, at time.Time) bool {
		return now.Sub(at) >= timeout
	}))
	for _, name := range expired {
		delete(t.since, name)
	}
	slices.Sort(expired)
	return expired
}

// Names returns the names currently typing in sorted order.
func (t *TypingState) Names() []string {
	names := lo.Keys(t.since)
	slices.Sort(names)
	return names
}
