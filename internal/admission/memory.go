package admission

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is an in-memory Limiter. Each key keeps the timestamps of its
// admitted requests, oldest first; expired timestamps are dropped from the
// front on every check.
type SlidingWindow struct {
	mu     sync.Mutex
	cfg    Config
	now    func() time.Time
	record map[string][]time.Time
}

// NewSlidingWindow returns an empty limiter. Zero fields of cfg take the defaults.
func NewSlidingWindow(cfg Config) *SlidingWindow {
	return &SlidingWindow{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		record: make(map[string][]time.Time),
	}
}

// Allow admits the request when fewer than Limit requests of key fall inside
// the window ending now.
func (s *SlidingWindow) Allow(_ context.Context, key string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := s.evict(key, now)

	if len(stamps) >= s.cfg.Limit {
		resetAt := stamps[0].Add(s.cfg.Window)
		return Result{
			Allowed:    false,
			Remaining:  0,
			Limit:      s.cfg.Limit,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	stamps = append(stamps, now)
	s.record[key] = stamps
	return Result{
		Allowed:   true,
		Remaining: s.cfg.Limit - len(stamps),
		Limit:     s.cfg.Limit,
		ResetAt:   stamps[0].Add(s.cfg.Window),
	}, nil
}

// evict drops the timestamps of key that are at least one window old.
func (s *SlidingWindow) evict(key string, now time.Time) []time.Time {
	stamps := s.record[key]
	cutoff := now.Add(-s.cfg.Window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	stamps = stamps[i:]
	if len(stamps) == 0 {
		delete(s.record, key)
		return nil
	}
	s.record[key] = stamps
	return stamps
}

// Prune forgets every key whose requests have all left the window and returns
// how many keys were removed.
func (s *SlidingWindow) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := now.Add(-s.cfg.Window)
	for key, stamps := range s.record {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(s.record, key)
			removed++
		}
	}
	return removed
}

// Keys reports how many clients are currently tracked.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.record)
}
