//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// sampleLog is a completed run with one PR and one blocked task
const sampleLog = `{"event":"run_started","run_id":"20260301_080000","repo":"shop","timestamp":"2026-03-01T08:00:00Z"}
{"type":"message","message":{"role":"assistant","usage":{"input_tokens":1200,"output_tokens":300}}}
{"type":"message",
{"event":"task_completed","task":"fix checkout","pr":42,"tokens_used":1500,"duration_sec":60,"timestamp":"2026-03-01T08:05:00Z"}
{"event":"task_blocked","task":"flaky test"}
{"event":"run_completed","exit_code":0,"timestamp":"2026-03-01T08:10:00Z"}
`

// Env is an isolated home for one CLI test: a config file pointing at its
// own database, control file, logs directory and events log.
type Env struct {
	Dir         string
	ConfigPath  string
	DBPath      string
	ControlPath string
	LogsDir     string
	EventsLog   string
}

// NewEnv writes a config into a temporary directory
func NewEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	e := &Env{
		Dir:         dir,
		ConfigPath:  filepath.Join(dir, "config.toml"),
		DBPath:      filepath.Join(dir, "summary.db"),
		ControlPath: filepath.Join(dir, "control.json"),
		LogsDir:     filepath.Join(dir, "logs"),
		EventsLog:   filepath.Join(dir, "logs", "events.jsonl"),
	}
	if err := os.MkdirAll(e.LogsDir, 0755); err != nil {
		t.Fatal(err)
	}

	config := `[general]
database_path = "` + e.DBPath + `"
logs_dir = "` + e.LogsDir + `"
control_file = "` + e.ControlPath + `"
events_log = "` + e.EventsLog + `"

[notifications]
desktop = false
slack_token_secret = ""
`
	if err := os.WriteFile(e.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return e
}

// WriteLog writes a run log into the logs directory and returns its path
func (e *Env) WriteLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.LogsDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// WriteControl replaces the control file
func (e *Env) WriteControl(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.ControlPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// Run executes the binary with the env's config and returns stdout and the
// exit code.
func (e *Env) Run(t *testing.T, binary string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binary, append([]string{"--config", e.ConfigPath}, args...)...)
	cmd.Env = append(os.Environ(), "AUTO_CLAUDE_DB=", "AUTO_CLAUDE_CONTROL=", "AUTO_CLAUDE_LOGS=")
	var stdout strings.Builder
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.String(), exitErr.ExitCode()
		}
		t.Fatalf("Failed to run %v: %v", args, err)
	}
	return stdout.String(), 0
}
