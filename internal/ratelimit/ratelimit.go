// Package ratelimit provides per-client token-bucket rate limiting for the
// daemon's request entrypoints (MCP calls, SSH sessions).
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits requests keyed by an arbitrary client identifier
// (bearer token, remote address, session ID).
type Limiter struct {
	mu           sync.RWMutex
	limiters     map[string]*rate.Limiter
	lastAccessed map[string]time.Time
	rpm          int
}

// New creates a Limiter allowing requestsPerMinute requests per client.
func New(requestsPerMinute int) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		lastAccessed: make(map[string]time.Time),
		rpm:          requestsPerMinute,
	}
}

// Allow checks whether a request from client is allowed right now.
func (l *Limiter) Allow(client string) error {
	limiter := l.getLimiter(client)
	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for %q (limit: %d requests/min)", client, l.rpm)
	}
	return nil
}

// Cleanup removes limiter entries unused for longer than maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	for client, lastUsed := range l.lastAccessed {
		if now.Sub(lastUsed) > maxAge {
			delete(l.limiters, client)
			delete(l.lastAccessed, client)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup on interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := l.Cleanup(maxAge); removed > 0 {
					log.Printf("rate limiter cleanup: removed %d stale entries", removed)
				}
			}
		}
	}()
}

func (l *Limiter) getLimiter(client string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[client]
	l.mu.RUnlock()

	if exists {
		l.mu.Lock()
		l.lastAccessed[client] = time.Now()
		l.mu.Unlock()
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists = l.limiters[client]; exists {
		l.lastAccessed[client] = time.Now()
		return limiter
	}

	rps := rate.Limit(float64(l.rpm) / 60.0)
	burst := max(l.rpm/10, 1)

	limiter = rate.NewLimiter(rps, burst)
	l.limiters[client] = limiter
	l.lastAccessed[client] = time.Now()
	return limiter
}
