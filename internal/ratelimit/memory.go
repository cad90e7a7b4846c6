package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Limits are per instance.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit Limit) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	hits := evict(m.windows[key], now.Add(-limit.Window))

	if len(hits) >= limit.Requests {
		m.windows[key] = hits
		reset := now.Add(limit.Window)
		if len(hits) > 0 {
			reset = hits[0].Add(limit.Window)
		}
		return Result{Allowed: false, Limit: limit.Requests, ResetAt: reset}, nil
	}

	hits = append(hits, now)
	m.windows[key] = hits
	return Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - len(hits),
		ResetAt:   hits[0].Add(limit.Window),
	}, nil
}

// evict drops timestamps at or before cutoff. hits is ordered oldest first.
func evict(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		return hits[:0]
	}
	return hits[i:]
}
