package gateway

import (
	"sync"
	"time"
)

// maxTrackedKeys caps tracked client keys so rotating source IPs cannot
// exhaust memory.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds WebSocket connects per client key within a sliding
// window. A non-positive limit disables it. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*rateLimitEntry
}

func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   limitPerMinute,
		entries: make(map[string]*rateLimitEntry),
	}
}

func (r *RateLimiter) Enabled() bool { return r.limit > 0 }

// Allow reports whether the key is within its budget, pruning stale entries
// when the tracked-key cap is reached.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}
	e.count++
	return e.count <= r.limit
}
