package ratelimit

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// In-memory Limiter
// =============================================================================

// MemoryLimiter keeps per-key consumption timestamps in process memory.
type MemoryLimiter struct {
	cfg Config

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:  cfg.withDefaults(),
		hits: make(map[string][]time.Time),
	}
}

// Consume records one point for key if the window has room.
func (l *MemoryLimiter) Consume(_ context.Context, key string) (Result, error) {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.hits[key], now.Add(-l.cfg.Window))

	if len(hits) >= l.cfg.Max {
		l.hits[key] = hits
		return rejected(l.cfg, hits[0], now), nil
	}

	hits = append(hits, now)
	l.hits[key] = hits
	return allowed(l.cfg, len(hits), hits[0]), nil
}

// Reset forgets every consumption recorded for key.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.hits, key)
	l.mu.Unlock()
}

// Evict drops keys with no consumption inside the window and returns how many
// were removed.
func (l *MemoryLimiter) Evict(_ context.Context) (int, error) {
	cutoff := l.cfg.Now().Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Evictor = (*MemoryLimiter)(nil)
)
