// Package ingest normalises newline-delimited JSON execution logs into a run
// record and its work units.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// Stats counts how the lines of a log were classified
type Stats struct {
	Lines        int `json:"lines"`
	Malformed    int `json:"malformed"`
	Unrecognised int `json:"unrecognised"`
}

// Result is a normalised run with the work units it produced. RunID and Repo
// are only set when the log carried a run_started event; callers assign them
// otherwise.
type Result struct {
	Run   domain.RunRecord
	Units []domain.WorkUnit
	Stats Stats

	// CompletedSeen reports whether a run_completed event was present
	CompletedSeen bool
}

// Parser accumulates log records
type Parser struct {
	ContextWindow int64
	Logger        *slog.Logger
}

// Parse reads r to the end using default settings
func Parse(r io.Reader) (*Result, error) {
	return (&Parser{}).Parse(r)
}

// ParseFile parses the log at path. A missing file yields an empty result.
func ParseFile(path string) (*Result, error) {
	return (&Parser{}).ParseFile(path)
}

// ParseFile parses the log at path. A missing file yields an empty result.
func (p *Parser) ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p.newResult(), nil
		}
		return nil, err
	}
	defer f.Close()
	return p.Parse(f)
}

func (p *Parser) newResult() *Result {
	window := p.ContextWindow
	if window <= 0 {
		window = domain.DefaultContextWindow
	}
	return &Result{Run: domain.RunRecord{ContextWindow: window}}
}

func (p *Parser) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Parse reads every line of r. Malformed and unrecognised lines are counted
// and skipped; only read errors from r are returned.
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	res := p.newResult()
	acc := accumulator{res: res}

	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			acc.line(p.logger(), lineNo, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	acc.finish()
	return res, nil
}

type accumulator struct {
	res *Result

	first, last *time.Time
	started     *time.Time
	ended       *time.Time
	duration    *int64
}

func (a *accumulator) line(log *slog.Logger, lineNo int, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	a.res.Stats.Lines++

	rec, err := Decode(line)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Line = lineNo
		}
		a.res.Stats.Malformed++
		log.Debug("skipping malformed log line", "line", lineNo, "error", err)
		return
	}

	if rec.Timestamp != nil {
		if a.first == nil {
			a.first = rec.Timestamp
		}
		a.last = rec.Timestamp
	}

	run := &a.res.Run
	switch ev := rec.Event.(type) {
	case MessageUsage:
		run.InputTokens += ev.InputTokens
		run.OutputTokens += ev.OutputTokens
		run.CacheReadTokens += ev.CacheReadTokens
		run.CacheWriteTokens += ev.CacheWriteTokens

	case RunStarted:
		if ev.RunID != "" {
			run.RunID = ev.RunID
		}
		if ev.Repo != "" {
			run.Repo = ev.Repo
		}
		if rec.Timestamp != nil {
			a.started = rec.Timestamp
		}

	case RunCompleted:
		a.res.CompletedSeen = true
		if ev.ExitCode != nil {
			run.ExitCode = ev.ExitCode
		}
		if ev.DurationSec != nil {
			a.duration = ev.DurationSec
		}
		if rec.Timestamp != nil {
			a.ended = rec.Timestamp
		}

	case ContextCheckpoint:
		if ev.UsagePct > run.ContextUsagePct {
			run.ContextUsagePct = ev.UsagePct
		}
		if ev.ContextWindow > 0 {
			run.ContextWindow = ev.ContextWindow
		}

	case TaskCompleted:
		run.TasksCompleted++
		unit := domain.WorkUnit{
			UnitType:    domain.UnitTask,
			Identifier:  orUnknown(ev.Task),
			TokensUsed:  ev.TokensUsed,
			DurationSec: ev.DurationSec,
			Status:      domain.WorkCompleted,
		}
		switch {
		case ev.PR != "":
			run.PRsCreated++
			unit.UnitType = domain.UnitPR
			unit.Identifier = ev.PR
		case ev.Issue != "":
			run.IssuesResolved++
			unit.UnitType = domain.UnitIssue
			unit.Identifier = ev.Issue
		case ev.UnitType.Valid():
			unit.UnitType = ev.UnitType
		}
		if unit.DurationSec < 0 {
			unit.DurationSec = 0
		}
		a.res.Units = append(a.res.Units, unit)

	case TaskBlocked:
		run.TasksBlocked++
		a.res.Units = append(a.res.Units, domain.WorkUnit{
			UnitType:   domain.UnitTask,
			Identifier: orUnknown(ev.Task),
			Status:     domain.WorkBlocked,
		})

	case nil:
		a.res.Stats.Unrecognised++
	}
}

// finish resolves the run span. Lifecycle events take precedence over the
// first and last timestamps seen; an explicit duration wins over the span.
func (a *accumulator) finish() {
	run := &a.res.Run

	run.StartedAt = a.first
	if a.started != nil {
		run.StartedAt = a.started
	}
	run.EndedAt = a.last
	if a.ended != nil {
		run.EndedAt = a.ended
	}

	switch {
	case a.duration != nil:
		run.DurationSec = *a.duration
	case run.StartedAt != nil && run.EndedAt != nil:
		span := int64(run.EndedAt.Sub(*run.StartedAt) / time.Second)
		if span < 0 {
			span = 0
		}
		run.DurationSec = span
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// TokenUsage sums input and output tokens over the assistant messages in r.
// Every other line is ignored.
func TokenUsage(r io.Reader) (int64, error) {
	var total int64
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if rec, derr := Decode(line); derr == nil {
				if u, ok := rec.Event.(MessageUsage); ok {
					total += u.InputTokens + u.OutputTokens
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// TokenUsageFile is TokenUsage over a file. A missing file uses zero tokens.
func TokenUsageFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return TokenUsage(f)
}
