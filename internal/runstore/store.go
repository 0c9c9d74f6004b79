// Package runstore persists runs, work units and report checkpoints in SQLite
// and computes the aggregates the gate, detector and digest read.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	_ "modernc.org/sqlite"
)

// DefaultTokensPerUnit is the baseline reported when no run in the window produced work
const DefaultTokensPerUnit = 50000.0

// StorageError wraps every persistence failure with the operation that hit it
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store provides SQLite-backed run telemetry
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and applies the schema.
// ":memory:" opens a private in-memory database.
func New(dbPath string) (*Store, error) {
	var db *sql.DB
	var err error

	if dbPath == ":memory:" {
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, storageErr("open", err)
		}
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, storageErr("open", err)
		}
	} else {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, storageErr("open", err)
			}
		}
		dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, storageErr("open", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("migrate", fmt.Errorf("running migrations: %w", err))
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `run_id, repo, started_at, ended_at, duration_sec, exit_code,
	input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
	context_window, context_usage_pct, tasks_completed, tasks_blocked,
	prs_created, issues_resolved`

const upsertRunSQL = `
	INSERT INTO runs (` + runColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		repo = excluded.repo,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		duration_sec = excluded.duration_sec,
		exit_code = excluded.exit_code,
		input_tokens = excluded.input_tokens,
		output_tokens = excluded.output_tokens,
		cache_read_tokens = excluded.cache_read_tokens,
		cache_write_tokens = excluded.cache_write_tokens,
		context_window = excluded.context_window,
		context_usage_pct = excluded.context_usage_pct,
		tasks_completed = excluded.tasks_completed,
		tasks_blocked = excluded.tasks_blocked,
		prs_created = excluded.prs_created,
		issues_resolved = excluded.issues_resolved
`

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertRun inserts a run or replaces every column of the stored run with the same run_id
func (s *Store) UpsertRun(run *domain.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}
	return storageErr("upsert run", upsertRun(s.db, run))
}

func upsertRun(db execer, run *domain.RunRecord) error {
	window := run.ContextWindow
	if window <= 0 {
		window = domain.DefaultContextWindow
	}
	_, err := db.Exec(upsertRunSQL,
		run.RunID,
		run.Repo,
		nullTime(run.StartedAt),
		nullTime(run.EndedAt),
		run.DurationSec,
		nullInt(run.ExitCode),
		run.InputTokens,
		run.OutputTokens,
		run.CacheReadTokens,
		run.CacheWriteTokens,
		window,
		run.ContextUsagePct,
		run.TasksCompleted,
		run.TasksBlocked,
		run.PRsCreated,
		run.IssuesResolved,
	)
	return err
}

// InsertWorkUnit appends a work unit
func (s *Store) InsertWorkUnit(unit *domain.WorkUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	return storageErr("insert work unit", insertWorkUnit(s.db, unit))
}

func insertWorkUnit(db execer, unit *domain.WorkUnit) error {
	_, err := db.Exec(`
		INSERT INTO work_units (run_id, unit_type, identifier, tokens_used, duration_sec, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, unit.RunID, string(unit.UnitType), unit.Identifier, unit.TokensUsed, unit.DurationSec, string(unit.Status))
	return err
}

// IngestRun upserts a run and appends its work units in one transaction.
// Units are only appended when the run has none stored yet, so replaying the
// same log does not duplicate them. Returns the number of units inserted.
func (s *Store) IngestRun(run *domain.RunRecord, units []domain.WorkUnit) (int, error) {
	if err := run.Validate(); err != nil {
		return 0, err
	}
	for i := range units {
		units[i].RunID = run.RunID
		if err := units[i].Validate(); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, storageErr("ingest run", err)
	}
	defer tx.Rollback()

	if err := upsertRun(tx, run); err != nil {
		return 0, storageErr("ingest run", err)
	}

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM work_units WHERE run_id = ?`, run.RunID).Scan(&existing); err != nil {
		return 0, storageErr("ingest run", err)
	}

	inserted := 0
	if existing == 0 {
		for i := range units {
			if err := insertWorkUnit(tx, &units[i]); err != nil {
				return 0, storageErr("ingest run", err)
			}
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("ingest run", err)
	}
	return inserted, nil
}

// GetRun retrieves a run by ID. ok is false when no such run exists.
func (s *Store) GetRun(runID string) (*domain.RunRecord, bool, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get run", err)
	}
	return run, true, nil
}

// QueryRunsSince returns runs started at or after since, oldest first.
// An empty repo matches every repository.
func (s *Store) QueryRunsSince(since time.Time, repo string) ([]*domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE started_at >= ?`
	args := []any{domain.FormatTimestamp(since)}

	if repo != "" {
		query += " AND repo = ?"
		args = append(args, repo)
	}
	query += " ORDER BY started_at, run_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("query runs", err)
	}
	defer rows.Close()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storageErr("query runs", err)
		}
		runs = append(runs, run)
	}
	return runs, storageErr("query runs", rows.Err())
}

// WorkUnitsForRun returns the work units of a run in insertion order
func (s *Store) WorkUnitsForRun(runID string) ([]domain.WorkUnit, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, unit_type, identifier, tokens_used, duration_sec, status
		FROM work_units WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, storageErr("work units", err)
	}
	defer rows.Close()

	var units []domain.WorkUnit
	for rows.Next() {
		var u domain.WorkUnit
		var unitType, status string
		var identifier sql.NullString
		if err := rows.Scan(&u.ID, &u.RunID, &unitType, &identifier, &u.TokensUsed, &u.DurationSec, &status); err != nil {
			return nil, storageErr("work units", err)
		}
		u.UnitType = domain.UnitType(unitType)
		u.Status = domain.WorkUnitStatus(status)
		u.Identifier = identifier.String
		units = append(units, u)
	}
	return units, storageErr("work units", rows.Err())
}

// Summary aggregates runs over a window
type Summary struct {
	RunCount         int     `json:"run_count" yaml:"run_count"`
	InputTokens      int64   `json:"total_input_tokens" yaml:"total_input_tokens"`
	OutputTokens     int64   `json:"total_output_tokens" yaml:"total_output_tokens"`
	CacheReadTokens  int64   `json:"total_cache_read_tokens" yaml:"total_cache_read_tokens"`
	CacheWriteTokens int64   `json:"total_cache_write_tokens" yaml:"total_cache_write_tokens"`
	TasksCompleted   int     `json:"total_tasks_completed" yaml:"total_tasks_completed"`
	TasksBlocked     int     `json:"total_tasks_blocked" yaml:"total_tasks_blocked"`
	PRsCreated       int     `json:"total_prs_created" yaml:"total_prs_created"`
	IssuesResolved   int     `json:"total_issues_resolved" yaml:"total_issues_resolved"`
	AvgContextUsage  float64 `json:"avg_context_usage" yaml:"avg_context_usage"`
	MaxContextUsage  float64 `json:"max_context_usage" yaml:"max_context_usage"`
}

// TotalTokens returns input plus output tokens
func (s Summary) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens
}

// SummarySince aggregates every run started at or after since. An empty
// window yields a zero Summary.
func (s *Store) SummarySince(since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(cache_write_tokens), 0),
			COALESCE(SUM(tasks_completed), 0),
			COALESCE(SUM(tasks_blocked), 0),
			COALESCE(SUM(prs_created), 0),
			COALESCE(SUM(issues_resolved), 0),
			COALESCE(AVG(context_usage_pct), 0),
			COALESCE(MAX(context_usage_pct), 0)
		FROM runs
		WHERE started_at >= ?
	`, domain.FormatTimestamp(since)).Scan(
		&sum.RunCount,
		&sum.InputTokens,
		&sum.OutputTokens,
		&sum.CacheReadTokens,
		&sum.CacheWriteTokens,
		&sum.TasksCompleted,
		&sum.TasksBlocked,
		&sum.PRsCreated,
		&sum.IssuesResolved,
		&sum.AvgContextUsage,
		&sum.MaxContextUsage,
	)
	if err != nil {
		return Summary{}, storageErr("summary", err)
	}
	return sum, nil
}

// Efficiency is one run's tokens-per-unit figure
type Efficiency struct {
	RunID           string     `json:"run_id" yaml:"run_id"`
	Repo            string     `json:"repo" yaml:"repo"`
	StartedAt       *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	TotalTokens     int64      `json:"total_tokens" yaml:"total_tokens"`
	WorkUnits       int        `json:"work_units" yaml:"work_units"`
	ContextUsagePct float64    `json:"context_usage_pct" yaml:"context_usage_pct"`
	ExitCode        *int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	TokensPerUnit   float64    `json:"tokens_per_unit" yaml:"tokens_per_unit"`
}

// EfficiencyBreakdown returns per-run tokens-per-unit since a timestamp,
// worst first. Runs without work units report their total tokens.
func (s *Store) EfficiencyBreakdown(since time.Time) ([]Efficiency, error) {
	rows, err := s.db.Query(`
		SELECT
			run_id,
			repo,
			started_at,
			(input_tokens + output_tokens) AS total_tokens,
			(tasks_completed + prs_created + issues_resolved) AS work_units,
			context_usage_pct,
			exit_code,
			CASE
				WHEN (tasks_completed + prs_created + issues_resolved) > 0
				THEN CAST(input_tokens + output_tokens AS REAL) / (tasks_completed + prs_created + issues_resolved)
				ELSE CAST(input_tokens + output_tokens AS REAL)
			END AS tokens_per_unit
		FROM runs
		WHERE started_at >= ?
		ORDER BY tokens_per_unit DESC, run_id
	`, domain.FormatTimestamp(since))
	if err != nil {
		return nil, storageErr("efficiency", err)
	}
	defer rows.Close()

	var out []Efficiency
	for rows.Next() {
		var e Efficiency
		var startedAt sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&e.RunID, &e.Repo, &startedAt, &e.TotalTokens, &e.WorkUnits, &e.ContextUsagePct, &exitCode, &e.TokensPerUnit); err != nil {
			return nil, storageErr("efficiency", err)
		}
		e.StartedAt = parseNullTime(startedAt)
		e.ExitCode = parseNullInt(exitCode)
		out = append(out, e)
	}
	return out, storageErr("efficiency", rows.Err())
}

// AverageTokensPerUnit returns the mean tokens-per-unit over runs in the
// trailing window that produced work. Returns DefaultTokensPerUnit when none did.
func (s *Store) AverageTokensPerUnit(days int) (float64, error) {
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT AVG(CAST(input_tokens + output_tokens AS REAL) / (tasks_completed + prs_created + issues_resolved))
		FROM runs
		WHERE started_at >= ?
		AND (tasks_completed + prs_created + issues_resolved) > 0
	`, domain.FormatTimestamp(since)).Scan(&avg)
	if err != nil {
		return DefaultTokensPerUnit, storageErr("baseline", err)
	}
	if !avg.Valid || avg.Float64 <= 0 {
		return DefaultTokensPerUnit, nil
	}
	return avg.Float64, nil
}

// LastReportTime returns when a report of the given type was last sent.
// ok is false when none has been recorded.
func (s *Store) LastReportTime(reportType string) (time.Time, bool, error) {
	var sentAt string
	err := s.db.QueryRow(`
		SELECT sent_at FROM report_checkpoints
		WHERE report_type = ?
		ORDER BY sent_at DESC, id DESC LIMIT 1
	`, reportType).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storageErr("last report", err)
	}
	t, err := domain.ParseTimestamp(sentAt)
	if err != nil {
		return time.Time{}, false, storageErr("last report", err)
	}
	return t, true, nil
}

// RecordReportSent appends a checkpoint stamped with the current time
func (s *Store) RecordReportSent(reportType string, runIDs []string) (*domain.ReportCheckpoint, error) {
	if runIDs == nil {
		runIDs = []string{}
	}
	idsJSON, err := json.Marshal(runIDs)
	if err != nil {
		return nil, storageErr("record report", err)
	}

	sentAt := s.now().UTC().Truncate(time.Second)
	res, err := s.db.Exec(`
		INSERT INTO report_checkpoints (report_type, sent_at, runs_included) VALUES (?, ?, ?)
	`, reportType, domain.FormatTimestamp(sentAt), string(idsJSON))
	if err != nil {
		return nil, storageErr("record report", err)
	}
	id, _ := res.LastInsertId()

	return &domain.ReportCheckpoint{ID: id, ReportType: reportType, SentAt: sentAt, RunIDs: runIDs}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var startedAt, endedAt sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(
		&run.RunID, &run.Repo, &startedAt, &endedAt, &run.DurationSec, &exitCode,
		&run.InputTokens, &run.OutputTokens, &run.CacheReadTokens, &run.CacheWriteTokens,
		&run.ContextWindow, &run.ContextUsagePct, &run.TasksCompleted, &run.TasksBlocked,
		&run.PRsCreated, &run.IssuesResolved,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = parseNullTime(startedAt)
	run.EndedAt = parseNullTime(endedAt)
	run.ExitCode = parseNullInt(exitCode)
	return &run, nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return domain.FormatTimestamp(*t)
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := domain.ParseTimestamp(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
