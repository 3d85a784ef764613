package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/warden/internal/action"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	e := New(KindDangerousDetected, action.Request{Kind: action.KindDeleteFile, OriginText: "delete it"})
	if e.ID == "" || e.Timestamp.IsZero() || e.Timestamp.Location() != time.UTC {
		t.Errorf("event = %+v", e)
	}
	if e.ActionKind != action.KindDeleteFile || e.OriginText != "delete it" {
		t.Errorf("event = %+v", e)
	}
}

func TestFileLogger_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	l, err := NewFileLogger(path, testLogger())
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, k := range []Kind{KindDangerousDetected, KindPINFailed, KindPINVerified} {
		e := New(k, action.Request{Kind: action.KindDeleteFile})
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := l.Record(context.Background(), e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	all, err := ReadFile(path, Filter{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(all) != 3 || all[0].Kind != KindPINVerified {
		t.Errorf("events = %+v", all)
	}

	failed, _ := ReadFile(path, Filter{Kinds: []Kind{KindPINFailed}})
	if len(failed) != 1 {
		t.Errorf("filtered = %d", len(failed))
	}

	limited, _ := ReadFile(path, Filter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited = %d", len(limited))
	}

	// Reopening appends rather than truncates.
	l2, err := NewFileLogger(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	_ = l2.Record(context.Background(), New(KindLockout, action.Request{}))
	_ = l2.Close()
	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "\n"); n != 4 {
		t.Errorf("lines = %d, want 4", n)
	}
}

func TestReadFile_Missing(t *testing.T) {
	events, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl"), Filter{})
	if err != nil || events != nil {
		t.Errorf("ReadFile = %v, %v", events, err)
	}
}

func TestFilter_Match(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := Event{Kind: KindLockout, ActionKind: action.KindShutdown, Timestamp: ts}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"kind match", Filter{Kinds: []Kind{KindPINFailed, KindLockout}}, true},
		{"kind miss", Filter{Kinds: []Kind{KindPINFailed}}, false},
		{"action miss", Filter{ActionKind: action.KindRestart}, false},
		{"since", Filter{Since: ts.Add(time.Second)}, false},
		{"until exclusive", Filter{Until: ts}, false},
		{"window", Filter{Since: ts.Add(-time.Hour), Until: ts.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		if got := tt.f.Match(e); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Event) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Record(context.Context, Event) error {
	c.n++
	return nil
}

func TestMulti_AttemptsAllSinks(t *testing.T) {
	boom := errors.New("disk full")
	c := &countingSink{}
	m := Multi{failingSink{err: boom}, c, Nop{}}
	err := m.Record(context.Background(), Event{Kind: KindLockout})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want disk full", err)
	}
	if c.n != 1 {
		t.Error("sink after a failing one was skipped")
	}
}
