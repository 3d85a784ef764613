package shell

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/sandbox"
)

// fakeSandbox records requests and returns a canned response.
type fakeSandbox struct {
	requests []sandbox.ExecutionRequest
	result   *sandbox.ExecutionResult
	err      error
}

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func find(t *testing.T, r *Runner, kind action.Kind) capability.Handler {
	t.Helper()
	for _, h := range r.Handlers() {
		if h.Kind() == kind {
			return h
		}
	}
	t.Fatalf("no handler %s", kind)
	return nil
}

func TestBlocked(t *testing.T) {
	r := NewRunner(&fakeSandbox{}, Config{Blocklist: []string{"  Mkfs "}}, testLogger())
	tests := []struct {
		cmd  string
		want string
	}{
		{"ls -la", ""},
		{"sudo RM -RF / --no-preserve-root", "rm -rf /"},
		{"DEL /F /S /Q C:\\", "del /f /s /q"},
		{":(){:|:&};:", ":(){:|:&};:"},
		{"dd if=/dev/zero of=/dev/sda", "dd if="},
		{"mkfs.ext4 /dev/sdb1", "mkfs"},
	}
	for _, tt := range tests {
		if got := r.Blocked(tt.cmd); got != tt.want {
			t.Errorf("Blocked(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestRunCmd_BlockedNeverReachesSandbox(t *testing.T) {
	fs := &fakeSandbox{}
	r := NewRunner(fs, Config{}, testLogger())
	res := find(t, r, action.KindRunCmd).Invoke(context.Background(), action.Params{"command": "rm -rf /"})
	if res.Success || res.Message != "Command blocked for safety reasons" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(fs.requests) != 0 {
		t.Error("blocked command reached the sandbox")
	}
}

func TestRunCmd_TargetFallbackAndTimeout(t *testing.T) {
	fs := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "hi\n"}}
	r := NewRunner(fs, Config{Timeout: 5 * time.Second}, testLogger())
	res := find(t, r, action.KindRunCommand).Invoke(context.Background(), action.Params{"target": "echo hi"})
	if !res.Success || res.Message != "hi\n" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(fs.requests) != 1 {
		t.Fatalf("requests = %d", len(fs.requests))
	}
	req := fs.requests[0]
	if req.Timeout != 5*time.Second {
		t.Errorf("timeout = %s", req.Timeout)
	}
	if strings.Join(req.Command, " ") != "sh -c echo hi" {
		t.Errorf("argv = %q", req.Command)
	}
}

func TestRunCmd_TimeoutBecomesFailedResult(t *testing.T) {
	fs := &fakeSandbox{err: sandbox.ErrTimeout}
	r := NewRunner(fs, Config{}, testLogger())
	res := find(t, r, action.KindRunCmd).Invoke(context.Background(), action.Params{"command": "sleep 100"})
	if res.Success || res.Message != "Command timed out" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunCmd_NonZeroExitUsesStderr(t *testing.T) {
	fs := &fakeSandbox{result: &sandbox.ExecutionResult{Stderr: "boom", ExitCode: 2}}
	r := NewRunner(fs, Config{}, testLogger())
	res := find(t, r, action.KindRunCmd).Invoke(context.Background(), action.Params{"command": "false"})
	if res.Success || res.Message != "boom" || res.Data["return_code"] != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "job.sh")
	if err := os.WriteFile(script, []byte("echo job\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	fs := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "job"}}
	r := NewRunner(fs, Config{}, testLogger())
	h := find(t, r, action.KindRunScript)

	if res := h.Invoke(context.Background(), action.Params{"path": script}); !res.Success {
		t.Fatalf("script: %+v", res)
	}
	if got := fs.requests[0].Command; len(got) != 2 || got[1] != script {
		t.Errorf("argv = %q", got)
	}

	if res := h.Invoke(context.Background(), action.Params{"path": filepath.Join(dir, "nope.sh")}); res.Success {
		t.Error("missing script should fail")
	}

	bad := filepath.Join(dir, "bad.sh")
	if err := os.WriteFile(bad, []byte("dd if=/dev/zero of=/dev/sda\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if res := h.Invoke(context.Background(), action.Params{"path": bad}); res.Success {
		t.Error("blocked script body should fail")
	}
}

func TestRunCmd_RealSandboxTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	sbx := sandbox.NewProcessSandbox(sandbox.ProcessConfig{}, testLogger())
	r := NewRunner(sbx, Config{Timeout: 200 * time.Millisecond}, testLogger())
	res := find(t, r, action.KindRunCmd).Invoke(context.Background(), action.Params{"command": "sleep 5"})
	if res.Success || res.Message != "Command timed out" {
		t.Errorf("unexpected result %+v", res)
	}
}
