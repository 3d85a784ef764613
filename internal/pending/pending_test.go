package pending

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/warden/internal/action"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func req(kind action.Kind) action.Request {
	return action.Request{Kind: kind, Parameters: action.Params{"path": "/tmp/a"}, OriginText: "delete a"}
}

func TestStageTake(t *testing.T) {
	s := New(0)
	e, err := s.Stage(req(action.KindDeleteFile))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if e.ID == "" || e.OriginText != "delete a" || !e.ExpiresAt.IsZero() {
		t.Errorf("entry = %+v", e)
	}
	if !s.Occupied() {
		t.Fatal("slot should be occupied")
	}

	got, ok := s.Take()
	if !ok || got.ID != e.ID {
		t.Fatalf("Take = %+v, %v", got, ok)
	}
	if _, ok := s.Take(); ok {
		t.Error("second Take should find nothing")
	}
}

func TestStage_AlreadyPendingKeepsFirst(t *testing.T) {
	s := New(0)
	first, _ := s.Stage(req(action.KindDeleteFile))
	_, err := s.Stage(req(action.KindShutdown))
	if !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("err = %v, want ErrAlreadyPending", err)
	}
	got, _ := s.Peek()
	if got.ID != first.ID || got.Request.Kind != action.KindDeleteFile {
		t.Errorf("pending entry was overwritten: %+v", got)
	}
}

func TestStage_CopiesParameters(t *testing.T) {
	s := New(0)
	r := req(action.KindDeleteFile)
	_, _ = s.Stage(r)
	r.Parameters["path"] = "/etc/passwd"
	got, _ := s.Peek()
	if got.Request.Parameters["path"] != "/tmp/a" {
		t.Error("staged request shares caller's parameter map")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	s := New(0)
	if _, ok := s.Cancel(); ok {
		t.Error("cancel on empty slot reported an entry")
	}
	_, _ = s.Stage(req(action.KindDeleteFile))
	if _, ok := s.Cancel(); !ok {
		t.Error("cancel should clear the entry")
	}
	if _, ok := s.Cancel(); ok {
		t.Error("second cancel reported an entry")
	}
	if s.Occupied() {
		t.Error("slot still occupied")
	}
}

func TestExpiry(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	var expired []Entry
	s := New(time.Minute, WithClock(c.now), WithOnExpire(func(e Entry) { expired = append(expired, e) }))

	e, _ := s.Stage(req(action.KindDeleteFile))
	if !e.ExpiresAt.Equal(c.t.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %s", e.ExpiresAt)
	}

	c.advance(59 * time.Second)
	if !s.Occupied() {
		t.Fatal("entry expired early")
	}

	c.advance(time.Second)
	if _, ok := s.Take(); ok {
		t.Error("expired entry was returned by Take")
	}
	if len(expired) != 1 || expired[0].ID != e.ID {
		t.Errorf("expired callbacks = %v", expired)
	}

	// Expired slot accepts a new request.
	if _, err := s.Stage(req(action.KindShutdown)); err != nil {
		t.Errorf("Stage after expiry: %v", err)
	}
}

func TestSweep(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(time.Minute, WithClock(c.now))
	_, _ = s.Stage(req(action.KindDeleteFile))

	if s.Sweep(c.t.Add(30 * time.Second)) {
		t.Error("Sweep discarded a live entry")
	}
	if !s.Sweep(c.t.Add(2 * time.Minute)) {
		t.Error("Sweep kept an expired entry")
	}
	if s.Sweep(c.t.Add(3 * time.Minute)) {
		t.Error("Sweep on empty slot reported work")
	}
}

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep(time.Time) bool {
	c.n.Add(1)
	return false
}

func TestStartSweeper(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cs := &countingSweeper{}
	stop, err := StartSweeper(context.Background(), "@every 1s", cs, logger)
	if err != nil {
		t.Fatalf("StartSweeper: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for cs.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	stop()
	if cs.n.Load() == 0 {
		t.Error("sweeper never ran")
	}
}

func TestStartSweeper_BadSpec(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := StartSweeper(context.Background(), "every now and then", &countingSweeper{}, logger); err == nil {
		t.Fatal("expected schedule error")
	}
}
