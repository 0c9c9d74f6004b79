package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/runstore"
)

func mustSchedule(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := ParseSchedule(expr)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSchedule(t *testing.T) {
	s := mustSchedule(t, "0 8,20 * * *")
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	if got, want := s.Next(at), time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next() = %v, want %v", got, want)
	}
	if got, want := s.Previous(at), time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Previous() = %v, want %v", got, want)
	}
	if got := s.Interval(at); got != 12*time.Hour {
		t.Errorf("Interval() = %v, want 12h", got)
	}
}

func TestSchedule_Due(t *testing.T) {
	s := mustSchedule(t, "0 8,20 * * *")
	last := time.Date(2025, 6, 1, 8, 0, 5, 0, time.UTC)

	tests := []struct {
		now  time.Time
		want bool
	}{
		{time.Date(2025, 6, 1, 19, 59, 0, 0, time.UTC), false},
		{time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC), true},
		{time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		if got := s.Due(last, tt.now); got != tt.want {
			t.Errorf("Due(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}

	// never reported: due once a slot within the last day has passed
	if !s.Due(time.Time{}, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Error("Due() without a previous report = false")
	}
}

func TestSchedule_NilFallsBackToDefaultWindow(t *testing.T) {
	s, err := ParseSchedule("")
	if err != nil || s != nil {
		t.Fatalf("ParseSchedule(\"\") = %v, %v", s, err)
	}
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := s.Interval(at); got != DefaultWindow {
		t.Errorf("Interval() = %v, want %v", got, DefaultWindow)
	}
	if got := s.Next(at); !got.Equal(at.Add(DefaultWindow)) {
		t.Errorf("Next() = %v", got)
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	if _, err := ParseSchedule("every tuesday"); err == nil {
		t.Error("expected error")
	}
}

func newStore(t *testing.T) *runstore.Store {
	t.Helper()
	store, err := runstore.New(filepath.Join(t.TempDir(), "summary.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func ago(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d).Truncate(time.Second)
	return &t
}

func TestBuilder_DigestAndWatermark(t *testing.T) {
	store := newStore(t)
	runs := []*domain.RunRecord{
		{RunID: "old", Repo: "a", StartedAt: ago(48 * time.Hour), InputTokens: 1000, TasksCompleted: 1},
		{RunID: "r1", Repo: "a", StartedAt: ago(3 * time.Hour), InputTokens: 40000, OutputTokens: 2000, TasksCompleted: 2, PRsCreated: 1},
		{RunID: "r2", Repo: "b", StartedAt: ago(2 * time.Hour), InputTokens: 30000, ContextUsagePct: 85},
	}
	for _, r := range runs {
		if err := store.UpsertRun(r); err != nil {
			t.Fatal(err)
		}
	}

	b := NewBuilder(store, mustSchedule(t, "0 8,20 * * *"))
	since, err := b.Since()
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Since(since); d < 11*time.Hour || d > 13*time.Hour {
		t.Errorf("Since() = %v ago, want one 12h interval", d)
	}

	d, err := b.Build(since)
	if err != nil {
		t.Fatal(err)
	}
	if d.Summary.RunCount != 2 {
		t.Errorf("RunCount = %d, want 2", d.Summary.RunCount)
	}
	if got := d.RunIDs(); len(got) != 2 || got[0] != "r1" || got[1] != "r2" {
		t.Errorf("RunIDs() = %v, want [r1 r2]", got)
	}
	if len(d.Flagged) != 1 || d.Flagged[0].RunID != "r2" {
		t.Errorf("Flagged = %+v, want r2", d.Flagged)
	}

	n := d.Notification()
	for _, want := range []string{":runner: 2 runs completed", ":coin: 72,000 tokens used", "*b* (`r2`) used 30,000 tokens", "Context usage: 85.0%", "Avg tokens/unit (7d)"} {
		if !strings.Contains(n.Message, want) {
			t.Errorf("Message missing %q:\n%s", want, n.Message)
		}
	}

	cp, err := b.Commit(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(cp.RunIDs) != 2 {
		t.Errorf("checkpoint RunIDs = %v", cp.RunIDs)
	}

	next, err := b.Since()
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(cp.SentAt) {
		t.Errorf("Since() after commit = %v, want watermark %v", next, cp.SentAt)
	}
}

func TestBuilder_EmptyWindow(t *testing.T) {
	b := NewBuilder(newStore(t), nil)
	d, err := b.Build(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Runs) != 0 || d.Baseline != runstore.DefaultTokensPerUnit {
		t.Errorf("digest = %+v, want empty with default baseline", d)
	}
	if !strings.Contains(d.Notification().Message, "_No runs since last report_") {
		t.Error("expected empty-window notice")
	}
}

func TestEfficiencyMarker(t *testing.T) {
	tests := []struct {
		tpu  float64
		want string
	}{
		{30000, ":white_check_mark:"},
		{50000, ":ballot_box_with_check:"},
		{90000, ":warning:"},
		{200000, ":rotating_light:"},
	}
	for _, tt := range tests {
		if got := EfficiencyMarker(tt.tpu, 50000); got != tt.want {
			t.Errorf("EfficiencyMarker(%v) = %q, want %q", tt.tpu, got, tt.want)
		}
	}
	if EfficiencyMarker(1, 0) != "" {
		t.Error("no baseline should yield no marker")
	}
}
