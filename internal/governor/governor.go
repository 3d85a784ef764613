// Package governor bounds PIN attempts against one pending action.
package governor

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxAttempts is the number of wrong PINs that forces a lockout.
const DefaultMaxAttempts = 3

// Decision is the governor's answer to one attempt.
type Decision int

const (
	Verified Decision = iota
	Retry
	Locked
)

func (d Decision) String() string {
	switch d {
	case Verified:
		return "verified"
	case Retry:
		return "retry"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Outcome of RecordAttempt. Remaining is only meaningful for Retry.
type Outcome struct {
	Decision  Decision
	Remaining int
}

func (o Outcome) String() string {
	if o.Decision == Retry {
		return fmt.Sprintf("retry(%d)", o.Remaining)
	}
	return o.Decision.String()
}

// Governor counts failed attempts, 0 <= count < max between calls. It is not
// safe for concurrent use: the dispatcher serializes access.
type Governor struct {
	max     int
	count   int
	limiter *rate.Limiter
}

// Option configures a Governor.
type Option func(*Governor)

// WithThrottle limits confirmations to perMinute, with a burst of the same
// size. perMinute <= 0 disables the throttle.
func WithThrottle(perMinute int) Option {
	return func(g *Governor) {
		if perMinute <= 0 {
			return
		}
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// New creates a governor. max <= 0 uses DefaultMaxAttempts.
func New(max int, opts ...Option) *Governor {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	g := &Governor{max: max}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RecordAttempt registers one verification result. Success and lockout both
// reset the counter.
func (g *Governor) RecordAttempt(success bool) Outcome {
	if success {
		g.count = 0
		return Outcome{Decision: Verified}
	}
	g.count++
	if g.count >= g.max {
		g.count = 0
		return Outcome{Decision: Locked}
	}
	return Outcome{Decision: Retry, Remaining: g.max - g.count}
}

// Allow reports whether a confirmation may be evaluated now. Always true
// without a throttle.
func (g *Governor) Allow() bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.Allow()
}

// Reset zeroes the counter.
func (g *Governor) Reset() { g.count = 0 }

// Count returns the failed attempts so far.
func (g *Governor) Count() int { return g.count }

// Max returns the attempt limit.
func (g *Governor) Max() int { return g.max }

// Remaining returns attempts left before lockout.
func (g *Governor) Remaining() int { return g.max - g.count }
