// Package shell implements the command handlers (run_cmd, run_command,
// run_script). All commands run through the sandbox, never directly on the host.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/sandbox"
)

// DefaultTimeout is the hard limit on a single command.
const DefaultTimeout = 30 * time.Second

// builtinBlocklist holds substrings that are never executed, whatever the
// authorization state.
var builtinBlocklist = []string{
	"rm -rf /",
	"del /f /s /q",
	"format c:",
	"rd /s /q",
	":(){:|:&};:",
	"dd if=",
}

// Config configures the command handlers.
type Config struct {
	Timeout   time.Duration
	Blocklist []string // Appended to the built-in list.
	WorkDir   string   // Empty = per-run sandbox temp dir.
}

// Runner executes commands for the shell handlers.
type Runner struct {
	sandbox   sandbox.Sandbox
	timeout   time.Duration
	blocklist []string
	workDir   string
	logger    *slog.Logger
}

// NewRunner creates a runner that delegates all execution to sbx.
func NewRunner(sbx sandbox.Sandbox, cfg Config, logger *slog.Logger) *Runner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	block := make([]string, 0, len(builtinBlocklist)+len(cfg.Blocklist))
	block = append(block, builtinBlocklist...)
	for _, b := range cfg.Blocklist {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			block = append(block, b)
		}
	}
	return &Runner{
		sandbox:   sbx,
		timeout:   timeout,
		blocklist: block,
		workDir:   cfg.WorkDir,
		logger:    logger,
	}
}

// Blocked returns the blocklist entry matched by command, or "".
func (r *Runner) Blocked(command string) string {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, b := range r.blocklist {
		if strings.Contains(lower, b) {
			return b
		}
	}
	return ""
}

// Handlers returns the run_cmd, run_command and run_script handlers.
func (r *Runner) Handlers() []capability.Handler {
	return []capability.Handler{
		&commandHandler{runner: r, kind: action.KindRunCmd},
		&commandHandler{runner: r, kind: action.KindRunCommand},
		&scriptHandler{runner: r},
	}
}

// run executes argv and maps the outcome onto a Result. A timeout is a
// failed result, never an error.
func (r *Runner) run(ctx context.Context, label string, argv []string) action.Result {
	res, err := r.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		WorkingDir: r.workDir,
		Timeout:    r.timeout,
	})
	if errors.Is(err, sandbox.ErrTimeout) {
		r.logger.Warn("command timed out",
			slog.String("label", label),
			slog.Duration("timeout", r.timeout),
		)
		return action.Fail("Command timed out")
	}
	if err != nil {
		return action.Fail("Error running command: %v", err)
	}

	msg := res.Stdout
	if strings.TrimSpace(msg) == "" {
		msg = res.Stderr
	}
	msg = capability.TruncateOutput(msg, capability.MaxOutputBytes)

	r.logger.Info("command finished",
		slog.String("label", label),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	return action.Result{Success: res.ExitCode == 0, Message: msg}.
		WithData("return_code", res.ExitCode)
}

type commandHandler struct {
	runner *Runner
	kind   action.Kind
}

func (h *commandHandler) Kind() action.Kind   { return h.kind }
func (h *commandHandler) Description() string { return "Run a shell command with a hard timeout" }
func (h *commandHandler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
			"target":  map[string]any{"type": "string", "description": "Alias for command"},
		},
	}
}

func (h *commandHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	command, err := params.Require("command", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	if b := h.runner.Blocked(command); b != "" {
		h.runner.logger.Warn("command blocked", slog.String("rule", b))
		return action.Fail("Command blocked for safety reasons")
	}
	// The sandbox wraps this again with ulimit; the inner sh interprets
	// pipes and redirects in the user's command.
	return h.runner.run(ctx, string(h.kind), []string{"sh", "-c", command})
}

type scriptHandler struct {
	runner *Runner
}

func (h *scriptHandler) Kind() action.Kind { return action.KindRunScript }
func (h *scriptHandler) Description() string {
	return "Run a shell script file or inline script with a hard timeout"
}
func (h *scriptHandler) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "Path to a script file"},
			"script": map[string]any{"type": "string", "description": "Inline script body"},
			"target": map[string]any{"type": "string", "description": "Alias for path"},
		},
	}
}

func (h *scriptHandler) Invoke(ctx context.Context, params action.Params) action.Result {
	if body := params.String("script"); strings.TrimSpace(body) != "" {
		if b := h.runner.Blocked(body); b != "" {
			return action.Fail("Command blocked for safety reasons")
		}
		return h.runner.run(ctx, "inline script", []string{"sh", "-c", body})
	}

	path, err := params.Require("path", "target")
	if err != nil {
		return action.Fail("%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return action.Fail("Script not found: %s", path)
	}
	if b := h.runner.Blocked(string(data)); b != "" {
		return action.Fail("Command blocked for safety reasons")
	}
	return h.runner.run(ctx, fmt.Sprintf("script %s", path), []string{"sh", path})
}
