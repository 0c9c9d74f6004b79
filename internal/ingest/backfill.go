package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// EventsLogName is the lifecycle event log kept alongside the run logs
const EventsLogName = "events.jsonl"

// Sink receives normalised runs
type Sink interface {
	IngestRun(run *domain.RunRecord, units []domain.WorkUnit) (int, error)
}

var logFilenameRe = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})\.jsonl$`)

// ParseLogFilename splits a run log name such as "shop_20251222_150007.jsonl"
// into the repository name and run ID.
func ParseLogFilename(name string) (repo, runID string, ok bool) {
	m := logFilenameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// BackfillResult summarises a backfill pass
type BackfillResult struct {
	Files   int `json:"files"`
	Runs    int `json:"runs"`
	Units   int `json:"units"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Backfiller ingests existing run logs from a directory
type Backfiller struct {
	Sink   Sink
	Parser *Parser
	Logger *slog.Logger
	Now    func() time.Time
}

// Backfill ingests the run logs in dir modified within the last days
func Backfill(ctx context.Context, sink Sink, dir string, days int) (*BackfillResult, error) {
	return (&Backfiller{Sink: sink}).Run(ctx, dir, days)
}

// Run ingests every run log in dir modified within the last days. A file
// whose run fails validation or storage is logged and skipped.
func (b *Backfiller) Run(ctx context.Context, dir string, days int) (*BackfillResult, error) {
	log := b.Logger
	if log == nil {
		log = slog.Default()
	}
	parser := b.Parser
	if parser == nil {
		parser = &Parser{Logger: log}
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	cutoff := now().Add(-time.Duration(days) * 24 * time.Hour)

	matches, err := filepath.Glob(filepath.Join(dir, "*_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}

	res := &BackfillResult{}
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if filepath.Base(path) == EventsLogName {
			continue
		}

		info, err := os.Stat(path)
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}

		repo, runID, ok := ParseLogFilename(path)
		if !ok {
			continue
		}
		res.Files++

		n, err := IngestFile(b.Sink, parser, path, runID, repo)
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			res.Skipped++
			log.Warn("skipping invalid run", "file", path, "error", err)
			continue
		case err != nil:
			res.Failed++
			log.Error("failed to ingest run", "file", path, "error", err)
			continue
		}
		res.Runs++
		res.Units += n
	}
	return res, nil
}

// IngestFile parses one log, stamps it with runID and repo and hands it to sink
func IngestFile(sink Sink, parser *Parser, path, runID, repo string) (int, error) {
	if parser == nil {
		parser = &Parser{}
	}
	parsed, err := parser.ParseFile(path)
	if err != nil {
		return 0, err
	}
	parsed.Run.RunID = runID
	parsed.Run.Repo = repo
	return sink.IngestRun(&parsed.Run, parsed.Units)
}
