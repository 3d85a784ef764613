package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout    = 30 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ProcessConfig configures the process sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
	// PassEnv names host variables copied into the child environment
	// (DISPLAY and friends for desktop launchers). Nothing else is inherited.
	PassEnv []string
}

// ProcessSandbox executes commands as OS processes:
//   - each execution gets its own temp directory, removed afterwards
//   - the child runs in its own process group, killed as a whole on timeout
//   - the environment is rebuilt from a minimal safe set
//   - ulimit caps CPU time and memory; stdout/stderr are capped
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	passEnv        []string
	observer       Observer
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	return &ProcessSandbox{
		defaultTimeout: timeout,
		defaultLimits:  limits,
		passEnv:        cfg.PassEnv,
		logger:         logger,
	}
}

// WithObserver attaches an execution observer (metrics).
func (s *ProcessSandbox) WithObserver(o Observer) *ProcessSandbox {
	s.observer = o
	return s
}

// DefaultTimeout returns the timeout applied when a request sets none.
func (s *ProcessSandbox) DefaultTimeout() time.Duration { return s.defaultTimeout }

// Execute runs a command. A deadline overrun returns an error wrapping
// ErrTimeout and a cancelled ctx one wrapping context.Canceled; a non-zero
// exit code is a result, not an error.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}

	if req.Detach {
		return s.start(req)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "warden-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.resolveLimits(req.Limits)
	cmd := exec.CommandContext(ctx, "/bin/sh", s.wrap(limits, req.Command)...)
	cmd.Dir = tmpDir
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = s.buildEnv(tmpDir, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Debug("sandbox executing",
		slog.String("program", req.Command[0]),
		slog.Int("args", len(req.Command)-1),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.observe("cancelled", duration)
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		}
		if ctx.Err() != nil {
			s.observe("timeout", duration)
			s.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			s.observe("error", duration)
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	status := "success"
	if exitCode != 0 {
		status = "nonzero"
	}
	s.observe(status, duration)

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// start launches a detached command and reaps it in the background.
func (s *ProcessSandbox) start(req ExecutionRequest) (*ExecutionResult, error) {
	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	home, _ := os.UserHomeDir()
	cmd.Env = s.buildEnv(home, req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		s.observe("error", time.Since(start))
		return nil, fmt.Errorf("starting %s: %w", req.Command[0], err)
	}
	go func() { _ = cmd.Wait() }()
	s.observe("detached", time.Since(start))

	return &ExecutionResult{Duration: time.Since(start)}, nil
}

// wrap builds: sh -c 'ulimit ...; exec "$@"' _ cmd args...
// The command is passed as positional parameters, never interpolated.
func (s *ProcessSandbox) wrap(limits ResourceLimits, command []string) []string {
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryMB*1024, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(command))
	args = append(args, "-c", script, "_")
	return append(args, command...)
}

func (s *ProcessSandbox) observe(status string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveSandbox(status, d)
	}
}

func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

func (s *ProcessSandbox) buildEnv(home string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=" + home,
		"TMPDIR=" + os.TempDir(),
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for _, name := range s.passEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter stops writing after a byte limit and silently discards the rest.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
