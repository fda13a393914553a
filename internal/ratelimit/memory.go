package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Store. Counts are not shared across replicas.
type InMemory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string][]time.Time)}
}

func (s *InMemory) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := evict(s.windows[key], now.Add(-window))
	res := Result{Limit: limit}
	if len(hits) < limit {
		hits = append(hits, now)
		res.Allowed = true
	}
	res.Remaining = max(limit-len(hits), 0)
	if len(hits) == 0 {
		delete(s.windows, key)
		res.ResetAt = now
		return res, nil
	}
	s.windows[key] = hits
	res.ResetAt = hits[0].Add(window)
	return res, nil
}

// evict drops timestamps at or before cutoff. hits is sorted.
func evict(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
