// Package anomaly checks a completed run against static thresholds and the
// trailing baseline kept in the run store.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/config"
	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// History is the slice of the run store the detector reads
type History interface {
	QueryRunsSince(since time.Time, repo string) ([]*domain.RunRecord, error)
	AverageTokensPerUnit(days int) (float64, error)
}

// Thresholds configures the checks
type Thresholds struct {
	ContextPct             float64
	ContextHighPct         float64
	TokensNoOutput         int64
	ConsecutiveFailures    int
	FailureWindow          time.Duration
	InefficiencyMultiplier float64
	BaselineDays           int
}

// DefaultThresholds returns the stock limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		ContextPct:             90,
		ContextHighPct:         95,
		TokensNoOutput:         50000,
		ConsecutiveFailures:    2,
		FailureWindow:          24 * time.Hour,
		InefficiencyMultiplier: 3,
		BaselineDays:           7,
	}
}

// ThresholdsFromConfig reads the [anomaly] section
func ThresholdsFromConfig(c config.AnomalyConfig) Thresholds {
	return Thresholds{
		ContextPct:             c.ContextThresholdPct,
		ContextHighPct:         c.ContextHighPct,
		TokensNoOutput:         c.TokensNoOutput,
		ConsecutiveFailures:    c.ConsecutiveFailures,
		FailureWindow:          time.Duration(c.FailureWindowHours) * time.Hour,
		InefficiencyMultiplier: c.InefficiencyMultiplier,
		BaselineDays:           c.BaselineDays,
	}
}

// Detector produces anomalies for completed runs
type Detector struct {
	History    History
	Thresholds Thresholds
	Logger     *slog.Logger
	Now        func() time.Time
}

// New creates a detector with the default thresholds
func New(h History) *Detector {
	return &Detector{
		History:    h,
		Thresholds: DefaultThresholds(),
		Logger:     slog.Default(),
		Now:        time.Now,
	}
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Detector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// CheckRun returns every anomaly the run exhibits, in check order. The checks
// are independent; a failed history lookup skips only the check that needs it.
func (d *Detector) CheckRun(ctx context.Context, run *domain.RunRecord) []domain.Anomaly {
	var out []domain.Anomaly
	t := d.Thresholds

	if a, ok := d.contextExhaustion(run); ok {
		out = append(out, a)
	}

	total := run.TotalTokens()
	units := run.WorkUnits()
	if total >= t.TokensNoOutput && units == 0 {
		out = append(out, domain.Anomaly{
			Type:       domain.AnomalyHighTokensNoOutput,
			Severity:   domain.SeverityHigh,
			Message:    fmt.Sprintf("Used %s tokens with no completed work", domain.FormatNumber(total)),
			Value:      float64(total),
			Suggestion: "Check for loops or stuck behavior in logs",
		})
	}

	if run.Failed() {
		if a, ok := d.failures(ctx, run); ok {
			out = append(out, a)
		}
	}

	if units > 0 {
		if a, ok := d.inefficiency(run); ok {
			out = append(out, a)
		}
	}

	for _, a := range out {
		d.logger().Debug("anomaly detected", "run_id", run.RunID, "type", a.Type, "severity", a.Severity, "value", a.Value)
	}
	return out
}

func (d *Detector) contextExhaustion(run *domain.RunRecord) (domain.Anomaly, bool) {
	pct := run.ContextUsagePct
	if pct < d.Thresholds.ContextPct {
		return domain.Anomaly{}, false
	}
	severity := domain.SeverityMedium
	if pct >= d.Thresholds.ContextHighPct {
		severity = domain.SeverityHigh
	}
	window := run.ContextWindow
	if window <= 0 {
		window = domain.DefaultContextWindow
	}
	return domain.Anomaly{
		Type:     domain.AnomalyContextExhaustion,
		Severity: severity,
		Message:  fmt.Sprintf("Context usage at %.1f%% of %dk token window", pct, window/1000),
		Value:    pct,
	}, true
}

func (d *Detector) failures(ctx context.Context, run *domain.RunRecord) (domain.Anomaly, bool) {
	code := *run.ExitCode
	single := domain.Anomaly{
		Type:     domain.AnomalyRunFailed,
		Severity: domain.SeverityLow,
		Message:  fmt.Sprintf("Run exited with code %d", code),
		Value:    float64(code),
	}
	if ctx.Err() != nil {
		return single, true
	}

	since := d.now().Add(-d.Thresholds.FailureWindow)
	history, err := d.History.QueryRunsSince(since, run.Repo)
	if err != nil {
		d.logger().Warn("skipping consecutive failure check", "repo", run.Repo, "error", err)
		return single, true
	}

	others := excluding(history, run.RunID)
	var count int
	if run.StartedAt == nil {
		// An undated current run is still the most recent one.
		count = 1 + ConsecutiveFailures(others)
	} else {
		count = ConsecutiveFailures(append(others, run))
	}
	if count >= d.Thresholds.ConsecutiveFailures {
		return domain.Anomaly{
			Type:       domain.AnomalyConsecutiveFailures,
			Severity:   domain.SeverityHigh,
			Message:    fmt.Sprintf("%d consecutive failures in %s", count, run.Repo),
			Value:      float64(count),
			Suggestion: "Investigate recurring issue",
		}, true
	}
	return single, true
}

func (d *Detector) inefficiency(run *domain.RunRecord) (domain.Anomaly, bool) {
	baseline, err := d.History.AverageTokensPerUnit(d.Thresholds.BaselineDays)
	if err != nil {
		d.logger().Warn("skipping inefficiency check", "run_id", run.RunID, "error", err)
		return domain.Anomaly{}, false
	}
	tpu := run.TokensPerUnit()
	if baseline <= 0 || tpu < baseline*d.Thresholds.InefficiencyMultiplier {
		return domain.Anomaly{}, false
	}
	return domain.Anomaly{
		Type:     domain.AnomalyInefficientRun,
		Severity: domain.SeverityMedium,
		Message: fmt.Sprintf("Tokens per unit (%s) is %gx+ above average (%s)",
			domain.FormatNumber(int64(tpu)), d.Thresholds.InefficiencyMultiplier, domain.FormatNumber(int64(baseline))),
		Value: tpu,
	}, true
}

// excluding drops the stored copy of runID so the caller's record wins
func excluding(history []*domain.RunRecord, runID string) []*domain.RunRecord {
	out := make([]*domain.RunRecord, 0, len(history)+1)
	for _, r := range history {
		if r.RunID != runID {
			out = append(out, r)
		}
	}
	return out
}

// ConsecutiveFailures counts failed runs from the most recent start backwards
// until the first run that did not fail. Runs with an unknown exit code end
// the streak.
func ConsecutiveFailures(runs []*domain.RunRecord) int {
	sorted := make([]*domain.RunRecord, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return startedAt(sorted[i]).After(startedAt(sorted[j]))
	})

	count := 0
	for _, r := range sorted {
		if !r.Failed() {
			break
		}
		count++
	}
	return count
}

// startedAt orders runs without a start time last
func startedAt(r *domain.RunRecord) time.Time {
	if r.StartedAt == nil {
		return time.Time{}
	}
	return *r.StartedAt
}
