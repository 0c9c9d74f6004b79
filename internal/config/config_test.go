package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Governance.IssueHardCap != 50 {
		t.Errorf("IssueHardCap = %d, want 50", cfg.Governance.IssueHardCap)
	}
	if cfg.Governance.IssueSoftCap != 25 {
		t.Errorf("IssueSoftCap = %d, want 25", cfg.Governance.IssueSoftCap)
	}
	if cfg.Anomaly.ContextThresholdPct != 90 {
		t.Errorf("ContextThresholdPct = %v, want 90", cfg.Anomaly.ContextThresholdPct)
	}
	if cfg.Anomaly.FailureWindowHours != 24 {
		t.Errorf("FailureWindowHours = %d, want 24", cfg.Anomaly.FailureWindowHours)
	}
	if len(cfg.Git.PrimaryBranches) != 2 || cfg.Git.PrimaryBranches[0] != "main" {
		t.Errorf("PrimaryBranches = %v, want [main master]", cfg.Git.PrimaryBranches)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AUTO_CLAUDE_DB", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Governance.IssueHardCap != 50 {
		t.Errorf("IssueHardCap = %d, want 50", cfg.Governance.IssueHardCap)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("AUTO_CLAUDE_DB", "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
database_path = "/test/summary.db"

[git]
primary_branches = ["trunk"]
timeout_sec = 5

[governance]
issue_hard_cap = 80
subset_label = "bot"

[anomaly]
tokens_no_output = 75000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/test/summary.db" {
		t.Errorf("DatabasePath = %q, want /test/summary.db", cfg.General.DatabasePath)
	}
	if cfg.Git.PrimaryBranches[0] != "trunk" {
		t.Errorf("PrimaryBranches = %v, want [trunk]", cfg.Git.PrimaryBranches)
	}
	if cfg.GitTimeout() != 5*time.Second {
		t.Errorf("GitTimeout() = %v, want 5s", cfg.GitTimeout())
	}
	if cfg.Governance.IssueHardCap != 80 {
		t.Errorf("IssueHardCap = %d, want 80", cfg.Governance.IssueHardCap)
	}
	if cfg.Governance.IssueSoftCap != 25 {
		t.Errorf("IssueSoftCap = %d, want default 25", cfg.Governance.IssueSoftCap)
	}
	if cfg.Governance.SubsetLabel != "bot" {
		t.Errorf("SubsetLabel = %q, want bot", cfg.Governance.SubsetLabel)
	}
	if cfg.Anomaly.TokensNoOutput != 75000 {
		t.Errorf("TokensNoOutput = %d, want 75000", cfg.Anomaly.TokensNoOutput)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AUTO_CLAUDE_DB", "/env/override.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.DatabasePath != "/env/override.db" {
		t.Errorf("DatabasePath = %q, want /env/override.db", cfg.General.DatabasePath)
	}
}

func TestLoad_Malformed(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[general\nbroken"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Load() error = %v, want *config.Error", err)
	}
	if cerr.Path != configPath {
		t.Errorf("Error.Path = %q, want %q", cerr.Path, configPath)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"hard cap", "[governance]\nissue_hard_cap = 0\n", "governance.issue_hard_cap"},
		{"branches", "[git]\nprimary_branches = []\n", "git.primary_branches"},
		{"schedule", "[reports]\nschedule = \"every tuesday\"\n", "reports.schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(configPath)
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Load() error = %v, want *config.Error", err)
			}
			if cerr.Key != tt.key {
				t.Errorf("Error.Key = %q, want %q", cerr.Key, tt.key)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[governance]\nissue_hard_cap = 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	// t.TempDir may resolve through a symlink, so compare resolved paths
	found := FindLocalConfig()
	wantResolved, _ := filepath.EvalSymlinks(localConfig)
	gotResolved, _ := filepath.EvalSymlinks(found)
	if gotResolved != wantResolved {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Governance.IssueHardCap != 10 {
		t.Errorf("IssueHardCap = %d, want 10 from local config", cfg.Governance.IssueHardCap)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	explicitPath := filepath.Join(dir, "explicit.toml")

	if err := os.WriteFile(explicitPath, []byte("[governance]\nissue_soft_cap = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithLocalFallback(explicitPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Governance.IssueSoftCap != 7 {
		t.Errorf("IssueSoftCap = %d, want 7", cfg.Governance.IssueSoftCap)
	}
}
