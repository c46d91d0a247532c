// Package ratelimit enforces a sliding-window per-account request
// ceiling. Two implementations share the interface: an in-memory
// limiter for single-node runs and a Redis-backed one for shared state.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/armansaberi/prism/config"
)

// Limiter answers whether one more request fits inside the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InMemory is a mutex-guarded sliding window limiter.
type InMemory struct {
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewInMemory creates an in-memory limiter from configuration.
func NewInMemory(cfg config.RateLimitConfig) *InMemory {
	return &InMemory{
		ceiling: cfg.Ceiling,
		window:  cfg.Window,
		now:     time.Now,
		hits:    make(map[string][]time.Time),
	}
}

// Allow records the attempt and reports whether it fits. Denied
// attempts are not recorded, so a burst of rejections does not extend
// the lockout.
func (l *InMemory) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.ceiling {
		l.hits[key] = recent
		return false, nil
	}
	l.hits[key] = append(recent, now)
	return true, nil
}

// sweep drops accounts whose newest hit already fell out of the
// window, so idle keys do not pin map entries forever. Hits are
// appended in order, so the last element is the newest.
func (l *InMemory) sweep(cutoff time.Time) {
	for k, ts := range l.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}
