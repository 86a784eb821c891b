// Package proc runs external programs for the kernel backends: the nbconvert
// subprocess, interpreter probes, and the doctor command's version checks.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"nbgrade/internal/logging"
)

// Command is a program invocation.
type Command struct {
	// Binary is the executable to run (e.g. "jupyter", "python3").
	Binary string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE pairs layered over the inherited environment.
	Env []string

	// Stdin is fed to the process when non-empty.
	Stdin string

	// Timeout bounds wall time. Zero means the executor default.
	Timeout time.Duration
}

// String returns the command line for display.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result describes a finished process.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Killed     bool
	KillReason string
	Truncated  bool
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// OK reports a zero exit without being killed.
func (r *Result) OK() bool {
	return !r.Killed && r.ExitCode == 0
}

// Config holds executor defaults.
type Config struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int64
	// Environment, when non-nil, replaces os.Environ() as the base environment.
	Environment []string
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 600 * time.Second,
		MaxOutputBytes: 64 * 1024 * 1024,
	}
}

// DirectExecutor runs commands on the host with os/exec.
type DirectExecutor struct {
	config Config
}

// NewDirectExecutor creates an executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultConfig())
}

// NewDirectExecutorWithConfig creates an executor with custom config.
func NewDirectExecutorWithConfig(config Config) *DirectExecutor {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	return &DirectExecutor{config: config}
}

// Execute runs cmd to completion. A non-zero exit or a timeout is reported in
// the Result; the error is reserved for failures to start the process.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	timer := logging.StartTimer(logging.CategoryKernel, "Process execution")
	defer timer.Stop()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	logging.KernelDebug("Executing: %s (dir=%s, timeout=%s)", cmd.String(), cmd.Dir, timeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Args...)
	execCmd.Dir = cmd.Dir
	execCmd.Env = e.buildEnvironment(cmd.Env)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: e.config.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: e.config.MaxOutputBytes}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	result := &Result{ExitCode: -1}
	start := time.Now()
	err := execCmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Truncated = stdout.truncated || stderr.truncated
	if result.Truncated {
		logging.Get(logging.CategoryKernel).Warn("Output of %s truncated: %d bytes discarded",
			cmd.Binary, stdout.discarded+stderr.discarded)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			logging.Get(logging.CategoryKernel).Warn("Process killed (timeout): %s after %s", cmd.Binary, timeout)
		case errors.Is(execCtx.Err(), context.Canceled):
			result.Killed = true
			result.KillReason = "context canceled"
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			logging.KernelDebug("Process exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
		default:
			logging.KernelError("Process failed to run: %s - %v", cmd.Binary, err)
			return nil, fmt.Errorf("run %s: %w", cmd.Binary, err)
		}
	} else {
		result.ExitCode = 0
	}

	logging.Kernel("Process completed: %s -> exit=%d, duration=%s", cmd.Binary, result.ExitCode, result.Duration)
	return result, nil
}

// LookPath resolves a binary on PATH.
func LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

func (e *DirectExecutor) buildEnvironment(extra []string) []string {
	base := e.config.Environment
	if base == nil {
		base = os.Environ()
	}
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	return append(env, extra...)
}

// limitedWriter caps the bytes written to w and counts what it drops.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so exec does not fail with a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
