// Package report assembles the periodic digest of recorded runs and keeps
// the reporting watermark.
package report

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/notify"
	"github.com/hochfrequenz/auto-claude/internal/runstore"
)

// DefaultType is the checkpoint type of scheduled reports
const DefaultType = "scheduled"

// maxEfficiencyRows bounds the breakdown shown in a digest
const maxEfficiencyRows = 8

// Source is the run store view the digest reads and the watermark it advances
type Source interface {
	QueryRunsSince(since time.Time, repo string) ([]*domain.RunRecord, error)
	SummarySince(since time.Time) (runstore.Summary, error)
	EfficiencyBreakdown(since time.Time) ([]runstore.Efficiency, error)
	AverageTokensPerUnit(days int) (float64, error)
	LastReportTime(reportType string) (time.Time, bool, error)
	RecordReportSent(reportType string, runIDs []string) (*domain.ReportCheckpoint, error)
}

// Digest is one assembled report
type Digest struct {
	Type        string                `json:"report_type"`
	Since       time.Time             `json:"since"`
	GeneratedAt time.Time             `json:"generated_at"`
	NextReport  time.Time             `json:"next_report"`
	Runs        []*domain.RunRecord   `json:"runs"`
	Summary     runstore.Summary      `json:"summary"`
	Efficiency  []runstore.Efficiency `json:"efficiency"`
	Baseline    float64               `json:"avg_tokens_per_unit"`
	// BaselineDays is the trailing window of Baseline
	BaselineDays int `json:"baseline_days"`
	// Flagged lists runs that spent tokens without producing work
	Flagged []runstore.Efficiency `json:"flagged,omitempty"`
}

// RunIDs returns the identifiers of the runs the digest covers
func (d *Digest) RunIDs() []string {
	ids := make([]string, 0, len(d.Runs))
	for _, r := range d.Runs {
		if r.RunID != "" {
			ids = append(ids, r.RunID)
		}
	}
	return ids
}

// Builder assembles digests from a Source
type Builder struct {
	Source       Source
	Schedule     *Schedule
	Type         string
	BaselineDays int
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewBuilder creates a Builder for scheduled reports
func NewBuilder(src Source, sched *Schedule) *Builder {
	return &Builder{
		Source:       src,
		Schedule:     sched,
		Type:         DefaultType,
		BaselineDays: 7,
		Logger:       slog.Default(),
		Now:          time.Now,
	}
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now().UTC()
	}
	return b.Now().UTC()
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// Since returns the start of the next report window: the last checkpoint of
// this report type, else one schedule interval back.
func (b *Builder) Since() (time.Time, error) {
	last, ok, err := b.Source.LastReportTime(b.Type)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return last, nil
	}
	now := b.now()
	return now.Add(-b.Schedule.Interval(now)), nil
}

// Due reports whether a scheduled report should go out now
func (b *Builder) Due() (bool, error) {
	last, _, err := b.Source.LastReportTime(b.Type)
	if err != nil {
		return false, err
	}
	return b.Schedule.Due(last, b.now()), nil
}

// Build assembles the digest for runs started at or after since
func (b *Builder) Build(since time.Time) (*Digest, error) {
	now := b.now()
	d := &Digest{
		Type:         b.Type,
		Since:        since,
		GeneratedAt:  now,
		NextReport:   b.Schedule.Next(now),
		BaselineDays: b.BaselineDays,
	}

	var err error
	if d.Runs, err = b.Source.QueryRunsSince(since, ""); err != nil {
		return nil, err
	}
	if d.Summary, err = b.Source.SummarySince(since); err != nil {
		return nil, err
	}
	if d.Efficiency, err = b.Source.EfficiencyBreakdown(since); err != nil {
		return nil, err
	}
	if d.Baseline, err = b.Source.AverageTokensPerUnit(b.BaselineDays); err != nil {
		b.logger().Warn("baseline unavailable", "error", err)
		d.Baseline = runstore.DefaultTokensPerUnit
	}

	for i, e := range d.Efficiency {
		if i >= maxEfficiencyRows {
			break
		}
		if e.WorkUnits == 0 && e.TotalTokens > 10000 {
			d.Flagged = append(d.Flagged, e)
		}
	}
	return d, nil
}

// Commit records that the digest was delivered, advancing the watermark
func (b *Builder) Commit(d *Digest) (*domain.ReportCheckpoint, error) {
	return b.Source.RecordReportSent(d.Type, d.RunIDs())
}

// EfficiencyMarker grades tokens per unit against the baseline
func EfficiencyMarker(tokensPerUnit, baseline float64) string {
	if baseline <= 0 {
		return ""
	}
	ratio := tokensPerUnit / baseline
	switch {
	case ratio <= 0.75:
		return ":white_check_mark:"
	case ratio <= 1.25:
		return ":ballot_box_with_check:"
	case ratio <= 2.0:
		return ":warning:"
	default:
		return ":rotating_light:"
	}
}

// Notification renders the digest for the notification sink
func (d *Digest) Notification() notify.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "*Summary* since %s\n", d.Since.Format("Jan 02 15:04 MST"))
	fmt.Fprintf(&b, ":runner: %d runs completed\n", d.Summary.RunCount)
	fmt.Fprintf(&b, ":page_facing_up: %d PRs created\n", d.Summary.PRsCreated)
	fmt.Fprintf(&b, ":white_check_mark: %d tasks completed\n", d.Summary.TasksCompleted)
	fmt.Fprintf(&b, ":coin: %s tokens used", domain.FormatNumber(d.Summary.TotalTokens()))
	if d.Summary.CacheReadTokens > 0 {
		fmt.Fprintf(&b, "\n:recycle: Cache read: %s tokens", domain.FormatNumber(d.Summary.CacheReadTokens))
	}

	if len(d.Efficiency) > 0 {
		b.WriteString("\n\n*Efficiency Breakdown*")
		for i, e := range d.Efficiency {
			if i >= maxEfficiencyRows {
				break
			}
			work := "no output"
			if e.WorkUnits == 1 {
				work = "1 unit"
			} else if e.WorkUnits > 1 {
				work = fmt.Sprintf("%d units", e.WorkUnits)
			}
			fmt.Fprintf(&b, "\n• `%s` | %s tokens | %s", e.Repo, domain.FormatNumber(e.TotalTokens), work)
			if marker := EfficiencyMarker(e.TokensPerUnit, d.Baseline); marker != "" {
				b.WriteString(" " + marker)
			}
		}
	}

	for _, e := range d.Flagged {
		fmt.Fprintf(&b, "\n:warning: *%s* (`%s`) used %s tokens with no completed work",
			notify.EscapeMarkdown(e.Repo), e.RunID, domain.FormatNumber(e.TotalTokens))
		if e.ContextUsagePct > 80 {
			fmt.Fprintf(&b, "\n   Context usage: %.1f%%", e.ContextUsagePct)
		}
	}

	if len(d.Runs) == 0 {
		b.WriteString("\n\n_No runs since last report_")
	}
	fmt.Fprintf(&b, "\n\nAvg tokens/unit (%dd): %s", d.BaselineDays, domain.FormatNumber(int64(d.Baseline)))

	typ := notify.NotifyInfo
	if len(d.Flagged) > 0 {
		typ = notify.NotifyWarning
	}
	return notify.Notification{
		Title:   "Auto-Claude Report - " + d.GeneratedAt.Format("Jan 02, 03:04 PM"),
		Message: b.String(),
		Type:    typ,
	}
}
