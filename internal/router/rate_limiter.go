package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection message rate limiting. A lockstep
// client at 20 ticks per second sends about 1200 input messages a minute;
// the default limit leaves headroom above that while still cutting off a
// misbehaving client flooding the coordinator.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
}

// clientLimit tracks rate limiting for a single connection.
type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// DefaultRateLimit is the per-connection messages-per-minute cap.
const DefaultRateLimit = 2400

// NewRateLimiter creates a rate limiter with the given per-window limit.
// Zero or negative values select the default.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimit),
	}
}

// Allow checks whether the connection may send another message.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[connID]
	if !exists {
		rl.clients[connID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops state for a disconnected connection.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}

// Cleanup removes stale entries; call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for connID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, connID)
		}
	}
}
