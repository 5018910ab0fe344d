package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket. The control API is local,
// so the client population is tiny; the map is still bounded to keep a
// misbehaving proxy from growing it forever.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration

	nowFn func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

const maxTrackedClients = 1000

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		nowFn:   time.Now,
	}
}

// allow consumes one token for the client, refilling the bucket when a
// full window has elapsed.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()

	b, ok := rl.buckets[client]
	if !ok {
		if len(rl.buckets) >= maxTrackedClients {
			rl.evictStale(now)
		}
		rl.buckets[client] = &bucket{tokens: rl.rate - 1, lastRefill: now}
		return true
	}

	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate - 1
		b.lastRefill = now
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// evictStale drops buckets idle for two windows; called with the lock
// held.
func (rl *rateLimiter) evictStale(now time.Time) {
	for client, b := range rl.buckets {
		if now.Sub(b.lastRefill) > 2*rl.window {
			delete(rl.buckets, client)
		}
	}
}

func (rl *rateLimiter) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// RemoteAddr only; X-Forwarded-For is client-controlled.
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if !rl.allow(client) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
