package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// LocalConfigName is the per-repository config file looked up from the working directory upwards
const LocalConfigName = ".auto-claude.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Git           GitConfig           `toml:"git"`
	Governance    GovernanceConfig    `toml:"governance"`
	Anomaly       AnomalyConfig       `toml:"anomaly"`
	Notifications NotificationsConfig `toml:"notifications"`
	Secrets       SecretsConfig       `toml:"secrets"`
	Reports       ReportsConfig       `toml:"reports"`
}

// GeneralConfig holds file locations
type GeneralConfig struct {
	DatabasePath  string `toml:"database_path"`
	LogsDir       string `toml:"logs_dir"`
	ControlFile   string `toml:"control_file"`
	EventsLog     string `toml:"events_log"`
	ContextWindow int64  `toml:"context_window"`
}

// GitConfig holds source-control checks
type GitConfig struct {
	PrimaryBranches []string `toml:"primary_branches"`
	Remote          string   `toml:"remote"`
	TimeoutSec      int      `toml:"timeout_sec"`
}

// GovernanceConfig holds issue quota and ratio settings
type GovernanceConfig struct {
	IssueHardCap      int    `toml:"issue_hard_cap"`
	IssueSoftCap      int    `toml:"issue_soft_cap"`
	TrackedLabel      string `toml:"tracked_label"`
	SubsetLabel       string `toml:"subset_label"`
	AutomationAuthor  string `toml:"automation_author"`
	TrackerTimeoutSec int    `toml:"tracker_timeout_sec"`
}

// AnomalyConfig holds post-run detection thresholds
type AnomalyConfig struct {
	ContextThresholdPct    float64 `toml:"context_threshold_pct"`
	ContextHighPct         float64 `toml:"context_high_pct"`
	TokensNoOutput         int64   `toml:"tokens_no_output"`
	ConsecutiveFailures    int     `toml:"consecutive_failures"`
	FailureWindowHours     int     `toml:"failure_window_hours"`
	InefficiencyMultiplier float64 `toml:"inefficiency_multiplier"`
	BaselineDays           int     `toml:"baseline_days"`
}

// NotificationsConfig holds alert delivery settings
type NotificationsConfig struct {
	Desktop          bool   `toml:"desktop"`
	SlackWebhook     string `toml:"slack_webhook"`
	SlackTokenSecret string `toml:"slack_token_secret"`
	DefaultChannel   string `toml:"default_channel"`
}

// SecretsConfig holds secret provider settings
type SecretsConfig struct {
	EnvFile    string `toml:"env_file"`
	BWSBinary  string `toml:"bws_binary"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// ReportsConfig holds the scheduled report settings
type ReportsConfig struct {
	Schedule   string `toml:"schedule"`
	ReportType string `toml:"report_type"`
}

// Error reports a missing or malformed configuration resource
type Error struct {
	Path string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Key != "" && e.Path != "":
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("config %s: %v", e.Key, e.Err)
	default:
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	logsDir := filepath.Join(home, ".claude", "logs")
	return &Config{
		General: GeneralConfig{
			DatabasePath:  filepath.Join(logsDir, "summary.db"),
			LogsDir:       logsDir,
			ControlFile:   filepath.Join(home, ".claude", "auto-claude-control.json"),
			EventsLog:     filepath.Join(logsDir, "events.jsonl"),
			ContextWindow: 200000,
		},
		Git: GitConfig{
			PrimaryBranches: []string{"main", "master"},
			Remote:          "origin",
			TimeoutSec:      30,
		},
		Governance: GovernanceConfig{
			IssueHardCap:      50,
			IssueSoftCap:      25,
			SubsetLabel:       "ai-created",
			AutomationAuthor:  "@me",
			TrackerTimeoutSec: 30,
		},
		Anomaly: AnomalyConfig{
			ContextThresholdPct:    90,
			ContextHighPct:         95,
			TokensNoOutput:         50000,
			ConsecutiveFailures:    2,
			FailureWindowHours:     24,
			InefficiencyMultiplier: 3,
			BaselineDays:           7,
		},
		Notifications: NotificationsConfig{
			SlackTokenSecret: "SLACK_TOKEN",
		},
		Secrets: SecretsConfig{
			EnvFile:    filepath.Join(home, ".config", "bws", ".env"),
			BWSBinary:  "bws",
			TimeoutSec: 30,
		},
		Reports: ReportsConfig{
			Schedule:   "0 8,20 * * *",
			ReportType: "scheduled",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, &Error{Path: path, Err: err}
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.LogsDir = ExpandPath(cfg.General.LogsDir)
	cfg.General.ControlFile = ExpandPath(cfg.General.ControlFile)
	cfg.General.EventsLog = ExpandPath(cfg.General.EventsLog)
	cfg.Secrets.EnvFile = ExpandPath(cfg.Secrets.EnvFile)

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}

	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path when given, else a local
// .auto-claude.toml found from the working directory upwards, else the
// default config path.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks from the working directory to the filesystem root
// looking for LocalConfigName. Returns "" when none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks values that would make later decisions meaningless
func (c *Config) Validate() error {
	if c.Governance.IssueHardCap <= 0 {
		return &Error{Key: "governance.issue_hard_cap", Err: fmt.Errorf("must be positive, got %d", c.Governance.IssueHardCap)}
	}
	if c.Governance.IssueSoftCap <= 0 {
		return &Error{Key: "governance.issue_soft_cap", Err: fmt.Errorf("must be positive, got %d", c.Governance.IssueSoftCap)}
	}
	if len(c.Git.PrimaryBranches) == 0 {
		return &Error{Key: "git.primary_branches", Err: fmt.Errorf("at least one branch is required")}
	}
	if c.Anomaly.InefficiencyMultiplier <= 0 {
		return &Error{Key: "anomaly.inefficiency_multiplier", Err: fmt.Errorf("must be positive, got %v", c.Anomaly.InefficiencyMultiplier)}
	}
	if c.Reports.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reports.Schedule); err != nil {
			return &Error{Key: "reports.schedule", Err: err}
		}
	}
	return nil
}

// GitTimeout returns the bound for a single git command
func (c *Config) GitTimeout() time.Duration {
	return seconds(c.Git.TimeoutSec)
}

// TrackerTimeout returns the bound for a single issue tracker command
func (c *Config) TrackerTimeout() time.Duration {
	return seconds(c.Governance.TrackerTimeoutSec)
}

// SecretsTimeout returns the bound for a single secret lookup
func (c *Config) SecretsTimeout() time.Duration {
	return seconds(c.Secrets.TimeoutSec)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 30 * time.Second
	}
	return time.Duration(n) * time.Second
}

func (c *Config) applyEnv() {
	c.General.DatabasePath = ExpandPath(getEnv("AUTO_CLAUDE_DB", c.General.DatabasePath))
	c.General.ControlFile = ExpandPath(getEnv("AUTO_CLAUDE_CONTROL", c.General.ControlFile))
	c.General.LogsDir = ExpandPath(getEnv("AUTO_CLAUDE_LOGS", c.General.LogsDir))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "auto-claude", "config.toml")
}
