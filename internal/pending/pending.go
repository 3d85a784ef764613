// Package pending holds the single pending-authorization slot: the dangerous
// request that is waiting for its PIN.
package pending

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/action"
)

var (
	ErrAlreadyPending = errors.New("an action is already pending")
	ErrNoPending      = errors.New("no pending action")
)

// DefaultTTL is how long a staged request waits for its PIN.
const DefaultTTL = 5 * time.Minute

// Entry is a staged request.
type Entry struct {
	ID         string
	Request    action.Request
	OriginText string
	CreatedAt  time.Time
	// ExpiresAt is zero when the slot has no TTL.
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its deadline at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Slot holds at most one Entry. It is not safe for concurrent use: the
// dispatcher serializes every call under its own lock.
type Slot struct {
	entry    *Entry
	ttl      time.Duration
	now      func() time.Time
	onExpire func(Entry)
}

// Option configures a Slot.
type Option func(*Slot)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Slot) { s.now = now }
}

// WithOnExpire registers fn to be called, synchronously, whenever an expired
// entry is discarded.
func WithOnExpire(fn func(Entry)) Option {
	return func(s *Slot) { s.onExpire = fn }
}

// New creates an empty slot. ttl <= 0 disables expiry.
func New(ttl time.Duration, opts ...Option) *Slot {
	s := &Slot{ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnExpire replaces the expiry callback.
func (s *Slot) OnExpire(fn func(Entry)) { s.onExpire = fn }

// TTL returns the configured time-to-live.
func (s *Slot) TTL() time.Duration { return s.ttl }

// Stage stores req. Fails with ErrAlreadyPending when a live entry exists;
// the existing entry is never overwritten.
func (s *Slot) Stage(req action.Request) (Entry, error) {
	now := s.now().UTC()
	s.expire(now)
	if s.entry != nil {
		return Entry{}, ErrAlreadyPending
	}
	e := Entry{
		ID:         uuid.NewString(),
		Request:    req.Clone(),
		OriginText: req.OriginText,
		CreatedAt:  now,
	}
	if s.ttl > 0 {
		e.ExpiresAt = now.Add(s.ttl)
	}
	s.entry = &e
	return e, nil
}

// Take returns the live entry and clears the slot.
func (s *Slot) Take() (Entry, bool) {
	s.expire(s.now().UTC())
	if s.entry == nil {
		return Entry{}, false
	}
	e := *s.entry
	s.entry = nil
	return e, true
}

// Cancel clears the slot. Idempotent: cancelling an empty slot reports false.
func (s *Slot) Cancel() (Entry, bool) {
	s.expire(s.now().UTC())
	if s.entry == nil {
		return Entry{}, false
	}
	e := *s.entry
	s.entry = nil
	return e, true
}

// Peek returns the live entry without clearing it.
func (s *Slot) Peek() (Entry, bool) {
	s.expire(s.now().UTC())
	if s.entry == nil {
		return Entry{}, false
	}
	return *s.entry, true
}

// Occupied reports whether a live entry exists.
func (s *Slot) Occupied() bool {
	_, ok := s.Peek()
	return ok
}

// Sweep discards the entry if it expired at now. Reports whether it did.
func (s *Slot) Sweep(now time.Time) bool {
	return s.expire(now.UTC())
}

func (s *Slot) expire(now time.Time) bool {
	if s.entry == nil || !s.entry.Expired(now) {
		return false
	}
	e := *s.entry
	s.entry = nil
	if s.onExpire != nil {
		s.onExpire(e)
	}
	return true
}
