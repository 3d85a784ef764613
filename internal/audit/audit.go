// Package audit records the security-relevant history of the dispatcher:
// every dangerous detection, PIN attempt, lockout and execution.
// Events are append-only; no sink offers update or delete.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/action"
)

// Kind names an audit event.
type Kind string

const (
	KindDangerousDetected Kind = "dangerous_detected"
	KindPINVerified       Kind = "pin_verified"
	KindPINFailed         Kind = "pin_failed"
	KindLockout           Kind = "lockout"
	KindActionCancelled   Kind = "action_cancelled"
	KindActionExecuted    Kind = "action_executed"
	KindActionExpired     Kind = "action_expired"
	KindPINChanged        Kind = "pin_changed"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindDangerousDetected, KindPINVerified, KindPINFailed, KindLockout,
	KindActionCancelled, KindActionExecuted, KindActionExpired, KindPINChanged,
}

// Event is one audit record. Never carries PIN material.
type Event struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Timestamp  time.Time   `json:"timestamp"`
	ActionKind action.Kind `json:"action_kind,omitempty"`
	OriginText string      `json:"origin_text,omitempty"`
	Verified   bool        `json:"verified"`
	PendingID  string      `json:"pending_id,omitempty"`
	Rule       string      `json:"rule,omitempty"`
	Category   string      `json:"category,omitempty"`
	// Success is set on action_executed.
	Success *bool  `json:"success,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Client  string `json:"client,omitempty"`
}

// New builds an event with a fresh ID and the current UTC time.
func New(kind Kind, req action.Request) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		ActionKind: req.Kind,
		OriginText: req.OriginText,
	}
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Filter narrows a Query.
type Filter struct {
	Kinds      []Kind
	ActionKind action.Kind
	Since      time.Time
	Until      time.Time
	Limit      int // 0 = DefaultQueryLimit
}

// DefaultQueryLimit caps Query results when Filter.Limit is zero.
const DefaultQueryLimit = 100

// Store is a queryable, append-only event store.
type Store interface {
	Append(ctx context.Context, e Event) error
	// Query returns matching events, newest first.
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// StoreSink adapts a Store to a Sink.
type StoreSink struct {
	Store Store
}

func (s StoreSink) Record(ctx context.Context, e Event) error {
	return s.Store.Append(ctx, e)
}

// Multi fans events out to every sink. All sinks are attempted; errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

var (
	_ Sink = StoreSink{}
	_ Sink = Multi(nil)
	_ Sink = Nop{}
)
