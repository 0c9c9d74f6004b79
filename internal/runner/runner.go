// Package runner executes external commands (git, gh, bws) with a bounded
// execution time. Every lookup the gate depends on goes through a Runner so
// tests can substitute canned output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a command when the caller sets none
const DefaultTimeout = 30 * time.Second

// Command describes one external invocation
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env entries are appended to the current process environment
	Env []string
}

// String renders the command line for logs and errors
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs a command and returns its standard output
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// Error is an external lookup failure: the command could not start, exited
// non-zero or exceeded its time bound.
type Error struct {
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Exec runs commands as child processes
type Exec struct {
	Timeout time.Duration
}

// New creates an Exec runner with the given per-command timeout
func New(timeout time.Duration) *Exec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exec{Timeout: timeout}
}

// Run executes cmd and returns stdout. The context deadline, if earlier than
// the runner timeout, wins.
func (e *Exec) Run(ctx context.Context, cmd Command) ([]byte, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stderr bytes.Buffer
	c.Stderr = &stderr

	out, err := c.Output()
	if err == nil {
		return out, nil
	}

	rerr := &Error{
		Command:  cmd.String(),
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rerr.TimedOut = true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		rerr.ExitCode = exitErr.ExitCode()
	}
	return out, rerr
}
