// Package executil runs external commands.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const maxStderrLen = 500

// limitedWriter keeps the first max bytes written to it and silently
// discards the rest, reporting every write as complete.
type limitedWriter struct {
	buf       *bytes.Buffer
	n         int64
	max       int64
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	origLen := len(p)
	if w.n >= w.max {
		w.truncated = w.truncated || origLen > 0
		return origLen, nil
	}
	if remaining := w.max - w.n; int64(origLen) > remaining {
		p = p[:remaining]
		w.truncated = true
	}
	n, err := w.buf.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	return origLen, nil
}

// RunSh runs cmd with `sh -c` in dir (empty inherits the working
// directory). On failure the first 500 bytes of stderr become the error
// message; the *exec.ExitError stays reachable through errors.As.
func RunSh(ctx context.Context, dir, cmd string) error {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir

	var buf bytes.Buffer
	c.Stderr = &limitedWriter{buf: &buf, max: maxStderrLen}
	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(buf.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

// ShellResult is the captured outcome of RunShCapture.
type ShellResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
}

// RunShCapture runs cmd with `sh -c` in dir and keeps at most limit bytes
// of combined stdout and stderr. A non-zero exit is reported through
// ExitCode, not as an error; the error is reserved for commands that
// could not be started or were cancelled.
func RunShCapture(ctx context.Context, dir, cmd string, limit int64) (ShellResult, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir

	var buf bytes.Buffer
	w := &limitedWriter{buf: &buf, max: limit}
	c.Stdout = w
	c.Stderr = w

	err := c.Run()
	res := ShellResult{Output: buf.String(), Truncated: w.truncated}
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("run %q: %w", cmd, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %q: %w", cmd, err)
}

// Executor runs commands and returns their combined output.
type Executor interface {
	// Run executes a command in the current directory.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// RunDir executes a command in dir.
	RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error)
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct{}

var _ Executor = (*RealExecutor)(nil)

// Run executes a command and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// RunDir executes a command in dir and returns its combined output.
func (e *RealExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	out, err := c.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s in %s: %w", cmd, dir, err)
	}
	return out, nil
}
