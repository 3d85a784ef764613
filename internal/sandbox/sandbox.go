// Package sandbox runs host commands for capability handlers. Every command
// gets a hard timeout, its own process group and a scrubbed environment.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned (wrapped) when a command exceeds its deadline.
var ErrTimeout = errors.New("execution timed out")

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute (e.g. ["ls", "-la"]).
	Command []string

	// WorkingDir overrides the working directory. Empty = isolated temp dir.
	WorkingDir string

	// Env adds extra variables on top of the minimal base set.
	Env map[string]string

	// Timeout overrides the sandbox default. Zero = use default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = use sandbox defaults.
	Limits ResourceLimits

	// Detach starts the command and returns without waiting for it. Used
	// for launchers (opening an app or a URL) whose lifetime is not ours.
	Detach bool
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // ulimit -t
	MaxMemoryMB   int // ulimit -v
}

// ExecutionResult captures the outcome of a sandboxed command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output joins stdout and stderr.
func (r *ExecutionResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

// Observer receives one call per finished execution. Implemented by the
// metrics collector.
type Observer interface {
	ObserveSandbox(status string, d time.Duration)
}
