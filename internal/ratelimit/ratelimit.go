// Package ratelimit implements a per-client token bucket limiter on top of
// golang.org/x/time/rate. Thread-safe. No background goroutines: idle
// clients are pruned lazily during Allow.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a client has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// idleTTL is how long an untouched client bucket is kept.
const idleTTL = 10 * time.Minute

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter is a per-client token bucket rate limiter.
// Each client gets an independent bucket; one client cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		clients: make(map[string]*client),
		burst:   burst,
		now:     time.Now,
	}
	if cfg.RequestsPerMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return l
}

// Unlimited reports whether the limiter lets everything through.
func (l *Limiter) Unlimited() bool { return l.limit == 0 }

// Allow consumes one token from the client's bucket. Returns ErrRateLimited
// if the bucket is empty.
func (l *Limiter) Allow(clientID string) error {
	if l.Unlimited() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = now
	l.prune(now)

	if !c.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// prune drops idle clients at most once per idleTTL. Must hold l.mu.
func (l *Limiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < idleTTL {
		return
	}
	l.lastPrune = now
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > idleTTL {
			delete(l.clients, id)
		}
	}
}
