package domain

import (
	"fmt"
	"time"
)

// DefaultContextWindow is the context window assumed when a run does not report one
const DefaultContextWindow = 200000

// RunRecord is the normalized telemetry of one execution against one repository
type RunRecord struct {
	RunID            string     `json:"run_id" yaml:"run_id"`
	Repo             string     `json:"repo" yaml:"repo"`
	StartedAt        *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	DurationSec      int64      `json:"duration_sec" yaml:"duration_sec"`
	ExitCode         *int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	InputTokens      int64      `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens     int64      `json:"output_tokens" yaml:"output_tokens"`
	CacheReadTokens  int64      `json:"cache_read_tokens" yaml:"cache_read_tokens"`
	CacheWriteTokens int64      `json:"cache_write_tokens" yaml:"cache_write_tokens"`
	ContextWindow    int64      `json:"context_window" yaml:"context_window"`
	ContextUsagePct  float64    `json:"context_usage_pct" yaml:"context_usage_pct"`
	TasksCompleted   int        `json:"tasks_completed" yaml:"tasks_completed"`
	TasksBlocked     int        `json:"tasks_blocked" yaml:"tasks_blocked"`
	PRsCreated       int        `json:"prs_created" yaml:"prs_created"`
	IssuesResolved   int        `json:"issues_resolved" yaml:"issues_resolved"`
}

// TotalTokens returns input plus output tokens. Cache traffic is tracked
// separately and does not count toward the total.
func (r *RunRecord) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// WorkUnits returns the number of outputs the run produced
func (r *RunRecord) WorkUnits() int {
	return r.TasksCompleted + r.PRsCreated + r.IssuesResolved
}

// TokensPerUnit returns total tokens divided by work units, or the total
// when the run produced nothing.
func (r *RunRecord) TokensPerUnit() float64 {
	units := r.WorkUnits()
	if units <= 0 {
		return float64(r.TotalTokens())
	}
	return float64(r.TotalTokens()) / float64(units)
}

// Failed reports whether the run finished with a known non-zero exit code
func (r *RunRecord) Failed() bool {
	return r.ExitCode != nil && *r.ExitCode != 0
}

// Validate rejects records that cannot be stored
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "run_id", Reason: "missing identifier"}
	}
	if r.Repo == "" {
		return &ValidationError{Field: "repo", Reason: "missing repository"}
	}
	if r.DurationSec < 0 {
		return &ValidationError{Field: "duration_sec", Reason: fmt.Sprintf("negative duration %d", r.DurationSec)}
	}
	return nil
}

// WorkUnit is a discrete output of a run
type WorkUnit struct {
	ID          int64          `json:"id,omitempty" yaml:"id,omitempty"`
	RunID       string         `json:"run_id" yaml:"run_id"`
	UnitType    UnitType       `json:"unit_type" yaml:"unit_type"`
	Identifier  string         `json:"identifier" yaml:"identifier"`
	TokensUsed  int64          `json:"tokens_used" yaml:"tokens_used"`
	DurationSec int64          `json:"duration_sec" yaml:"duration_sec"`
	Status      WorkUnitStatus `json:"status" yaml:"status"`
}

// Validate rejects work units that cannot be stored
func (w *WorkUnit) Validate() error {
	if w.RunID == "" {
		return &ValidationError{Field: "run_id", Reason: "work unit has no owning run"}
	}
	if !w.UnitType.Valid() {
		return &ValidationError{Field: "unit_type", Reason: fmt.Sprintf("unknown unit type %q", w.UnitType)}
	}
	if !w.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", w.Status)}
	}
	if w.DurationSec < 0 {
		return &ValidationError{Field: "duration_sec", Reason: fmt.Sprintf("negative duration %d", w.DurationSec)}
	}
	return nil
}

// ReportCheckpoint marks that a report covering RunIDs was sent
type ReportCheckpoint struct {
	ID         int64     `json:"id" yaml:"id"`
	ReportType string    `json:"report_type" yaml:"report_type"`
	SentAt     time.Time `json:"sent_at" yaml:"sent_at"`
	RunIDs     []string  `json:"runs_included" yaml:"runs_included"`
}

// ValidationError reports a single record that was rejected
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
