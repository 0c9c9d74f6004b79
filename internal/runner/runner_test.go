package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestExec_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := New(5*time.Second).Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("output = %q, want hello", out)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	_, err := New(5*time.Second).Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("Run() error = %v, want *runner.Error", err)
	}
	if rerr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", rerr.ExitCode)
	}
	if rerr.Stderr != "broken" {
		t.Errorf("Stderr = %q, want broken", rerr.Stderr)
	}
}

func TestExec_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	start := time.Now()
	_, err := New(100*time.Millisecond).Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	var rerr *Error
	if !errors.As(err, &rerr) || !rerr.TimedOut {
		t.Fatalf("Run() error = %v, want timed out *runner.Error", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestExec_Env(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	out, err := New(0).Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "printf %s \"$RUNNER_TEST_VALUE\""},
		Env:  []string{"RUNNER_TEST_VALUE=injected"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "injected" {
		t.Errorf("output = %q, want injected", out)
	}
}

func TestFake(t *testing.T) {
	f := NewFake().
		On("git rev-parse HEAD", "abc123\n").
		Fail("git fetch origin main --quiet", nil)

	out, err := f.Run(context.Background(), Command{Name: "git", Args: []string{"rev-parse", "HEAD"}})
	if err != nil || string(out) != "abc123\n" {
		t.Errorf("Run(rev-parse) = %q, %v", out, err)
	}

	if _, err := f.Run(context.Background(), Command{Name: "git", Args: []string{"fetch", "origin", "main", "--quiet"}}); err == nil {
		t.Error("expected registered failure")
	}

	if _, err := f.Run(context.Background(), Command{Name: "gh", Args: []string{"pr", "list"}}); err == nil {
		t.Error("expected failure for unregistered command")
	}

	if !f.Ran("git rev-parse HEAD") {
		t.Error("Ran(git rev-parse HEAD) = false")
	}
	if len(f.Calls()) != 3 {
		t.Errorf("Calls() = %d, want 3", len(f.Calls()))
	}
}
