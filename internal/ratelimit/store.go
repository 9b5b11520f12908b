package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 5000

// Counter is the state of one fixed window after a hit has been recorded.
type Counter struct {
	Count       int64
	WindowStart time.Time
	ResetAt     time.Time
}

type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
}

// MemoryStore keeps counters in process memory. Each process counts on its
// own, so behind N instances the effective quota is N times the limit.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
	maxKeys  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]Counter),
		maxKeys:  defaultMaxKeys,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || !now.Before(counter.ResetAt) {
		counter = Counter{Count: 0, WindowStart: now, ResetAt: now.Add(window)}
	}
	counter.Count++
	s.counters[key] = counter

	if len(s.counters) > s.maxKeys {
		s.sweepLocked(now)
	}

	return counter, nil
}

// Sweep drops counters whose window has elapsed and returns how many.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, counter := range s.counters {
		if !now.Before(counter.ResetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
