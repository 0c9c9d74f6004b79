package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/channel"
	"github.com/hochfrequenz/auto-claude/internal/control"
	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/gitstate"
	"github.com/hochfrequenz/auto-claude/internal/issues"
	"github.com/hochfrequenz/auto-claude/internal/secrets"
)

var (
	now     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeRepo struct {
	branch    string
	status    string
	head      string
	remote    string
	base      string
	remoteURL string
	err       error
	baseErr   error
	fetched   bool
}

func (r *fakeRepo) CurrentBranch(ctx context.Context) (string, error) { return r.branch, r.err }
func (r *fakeRepo) Status(ctx context.Context) (string, error)        { return r.status, nil }
func (r *fakeRepo) Fetch(ctx context.Context, remote, branch string) error {
	r.fetched = true
	return nil
}

func (r *fakeRepo) RevParse(ctx context.Context, ref string) (string, error) {
	if ref == "HEAD" {
		return r.head, nil
	}
	if r.remote == "" {
		return "", errors.New("unknown revision")
	}
	return r.remote, nil
}

func (r *fakeRepo) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.base, r.baseErr
}

func (r *fakeRepo) RemoteURL(ctx context.Context, remote string) (string, error) {
	if r.remoteURL == "" {
		return "", errors.New("no remote")
	}
	return r.remoteURL, nil
}

type fakeTracker struct {
	total   int
	labeled int
	prs     int
	err     error
	prErr   error
	calls   int
}

func (f *fakeTracker) CountOpenIssues(ctx context.Context, label string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if label == "ai-created" {
		return f.labeled, nil
	}
	return f.total, nil
}

func (f *fakeTracker) CountOpenPRs(ctx context.Context, author string) (int, error) {
	f.calls++
	return f.prs, f.prErr
}

func writeControl(t *testing.T, v map[string]any) *control.File {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "auto-claude-control.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return &control.File{Path: path}
}

func TestCheckControl_SkipCountDecrements(t *testing.T) {
	f := writeControl(t, map[string]any{"skip_count": 3})

	for i, wantLeft := range []int{2, 1, 0} {
		res := CheckControl(f, false, now, discard)
		if res.ShouldRun {
			t.Fatalf("call %d: ShouldRun = true, want skip", i+1)
		}
		if res.SkipCount != wantLeft {
			t.Errorf("call %d: SkipCount = %d, want %d", i+1, res.SkipCount, wantLeft)
		}
		st, err := f.Load()
		if err != nil {
			t.Fatal(err)
		}
		if st.SkipCount != wantLeft {
			t.Errorf("call %d: persisted skip_count = %d, want %d", i+1, st.SkipCount, wantLeft)
		}
	}

	if res := CheckControl(f, false, now, discard); !res.ShouldRun {
		t.Errorf("fourth call: ShouldRun = false (%s), want ok", res.Reason)
	}
}

func TestCheckControl_Reason(t *testing.T) {
	f := writeControl(t, map[string]any{"skip_count": 2})
	res := CheckControl(f, false, now, discard)
	if res.Reason != "Skip count was 2, now 1" {
		t.Errorf("Reason = %q", res.Reason)
	}
}

func TestCheckControl_Paused(t *testing.T) {
	f := writeControl(t, map[string]any{"pause_until": "2025-06-01T13:00:00Z", "skip_count": 2})

	res := CheckControl(f, false, now, discard)
	if res.ShouldRun {
		t.Fatal("ShouldRun = true while paused")
	}
	if res.Reason != "Paused until 2025-06-01T13:00:00Z" {
		t.Errorf("Reason = %q", res.Reason)
	}
	st, _ := f.Load()
	if st.SkipCount != 2 {
		t.Errorf("skip_count = %d, pause must not consume skips", st.SkipCount)
	}

	// pause expired: skip count applies
	res = CheckControl(f, false, now.Add(2*time.Hour), discard)
	if res.ShouldRun || res.SkipCount != 1 {
		t.Errorf("after pause: %+v, want skip with 1 left", res)
	}
}

func TestCheckControl_Permissive(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(malformed, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		file  *control.File
		force bool
	}{
		{"missing file", &control.File{Path: filepath.Join(dir, "missing.json")}, false},
		{"malformed file", &control.File{Path: malformed}, false},
		{"no file configured", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := CheckControl(tt.file, tt.force, now, discard); !res.ShouldRun {
				t.Errorf("ShouldRun = false (%s), want permissive ok", res.Reason)
			}
		})
	}
}

func TestCheckControl_ForceLeavesFileUntouched(t *testing.T) {
	f := writeControl(t, map[string]any{"skip_count": 1})
	if res := CheckControl(f, true, now, discard); !res.ShouldRun {
		t.Fatal("force should run")
	}
	st, _ := f.Load()
	if st.SkipCount != 1 {
		t.Errorf("skip_count = %d, force must not decrement", st.SkipCount)
	}
}

func TestCheckSync(t *testing.T) {
	primary := []string{"main", "master"}
	tests := []struct {
		name      string
		repo      *fakeRepo
		ok        bool
		needsPull bool
		ahead     bool
		unknown   bool
		message   string
	}{
		{"in sync", &fakeRepo{branch: "main", head: "a", remote: "a"}, true, false, false, false, "Git checks passed"},
		{"no remote branch", &fakeRepo{branch: "master", head: "a"}, true, false, false, false, "Git checks passed"},
		{"wrong branch", &fakeRepo{branch: "feature/x", head: "a"}, false, false, false, false, "Not on main/master branch (on: feature/x)"},
		{"dirty", &fakeRepo{branch: "main", status: " M file.go\n"}, false, false, false, false, "Working tree has uncommitted changes"},
		{"ahead", &fakeRepo{branch: "main", head: "b", remote: "a", base: "a"}, true, false, true, false, "Local is ahead of origin (unpushed commits)"},
		{"behind", &fakeRepo{branch: "main", head: "a", remote: "b", base: "a"}, true, true, false, false, "Local is behind origin (needs pull)"},
		{"diverged", &fakeRepo{branch: "main", head: "b", remote: "c", base: "a"}, false, false, false, false, "Branch has diverged from origin"},
		{"git unavailable", &fakeRepo{err: errors.New("not a git repository")}, true, false, false, true, ""},
		{"merge-base fails", &fakeRepo{branch: "main", head: "b", remote: "c", baseErr: errors.New("boom")}, true, false, false, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckSync(context.Background(), tt.repo, primary, "origin")
			if got.OK != tt.ok {
				t.Errorf("OK = %v, want %v (%s)", got.OK, tt.ok, got.Message)
			}
			if got.NeedsPull != tt.needsPull {
				t.Errorf("NeedsPull = %v, want %v", got.NeedsPull, tt.needsPull)
			}
			if got.Ahead != tt.ahead {
				t.Errorf("Ahead = %v, want %v", got.Ahead, tt.ahead)
			}
			if got.Unknown != tt.unknown {
				t.Errorf("Unknown = %v, want %v", got.Unknown, tt.unknown)
			}
			if tt.message != "" && got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

func TestCheckSync_FetchesBeforeComparing(t *testing.T) {
	repo := &fakeRepo{branch: "main", head: "a", remote: "a"}
	CheckSync(context.Background(), repo, []string{"main"}, "")
	if !repo.fetched {
		t.Error("expected fetch before comparing with remote")
	}
}

func TestResolveRatioMode(t *testing.T) {
	tests := []struct {
		issues int
		prs    int
		ratio  float64
		mode   domain.EnforcementMode
	}{
		{20, 2, 10.0, domain.ModePRCreation},
		{20, 12, 20.0 / 12.0, domain.ModePRFocus},
		{200, 10, 20.0, domain.ModePRFocus},
		{8, 0, 8.0, domain.ModePRCreation},
		{16, 4, 4.0, domain.ModeConsolidation},
		{15, 3, 5.0, domain.ModeConsolidation},
		{6, 3, 2.0, domain.ModeNormal},
		{16, 5, 3.2, domain.ModeNormal},
		{0, 0, 0, domain.ModeNormal},
	}
	for _, tt := range tests {
		ratio, mode := ResolveRatioMode(tt.issues, tt.prs)
		if ratio != tt.ratio || mode != tt.mode {
			t.Errorf("ResolveRatioMode(%d, %d) = (%v, %v), want (%v, %v)", tt.issues, tt.prs, ratio, mode, tt.ratio, tt.mode)
		}
	}
}

func TestEvaluateQuota(t *testing.T) {
	limits := DefaultQuotaLimits()

	tests := []struct {
		total    int
		labeled  int
		mode     domain.EnforcementMode
		blocking bool
	}{
		{10, 5, domain.ModeNormal, false},
		{30, 25, domain.ModeConsolidation, false},
		{49, 0, domain.ModeNormal, false},
		{50, 0, domain.ModePaused, true},
		{60, 40, domain.ModePaused, true},
	}
	for _, tt := range tests {
		got := EvaluateQuota(tt.total, tt.labeled, limits)
		if got.Mode != tt.mode || got.Blocking != tt.blocking {
			t.Errorf("EvaluateQuota(%d, %d) = (%v, %v), want (%v, %v)", tt.total, tt.labeled, got.Mode, got.Blocking, tt.mode, tt.blocking)
		}
	}
}

func TestCheckQuota_LookupFailureIsNeutral(t *testing.T) {
	q, r := CheckQuota(context.Background(), &fakeTracker{err: errors.New("gh: not logged in")}, DefaultQuotaLimits(), false, discard)
	if q.Mode != domain.ModeNormal || q.Blocking || q.Total != -1 {
		t.Errorf("quota = %+v, want neutral", q)
	}
	if r.Mode != domain.ModeNormal || !r.Unknown {
		t.Errorf("ratio = %+v, want neutral", r)
	}
}

func TestCheckQuota_PRLookupFailureKeepsQuota(t *testing.T) {
	q, r := CheckQuota(context.Background(), &fakeTracker{total: 55, prErr: errors.New("timeout")}, DefaultQuotaLimits(), false, discard)
	if q.Mode != domain.ModePaused {
		t.Errorf("quota mode = %v, want PAUSED", q.Mode)
	}
	if !r.Unknown || r.Mode != domain.ModeNormal {
		t.Errorf("ratio = %+v, want neutral", r)
	}
}

func TestCheckQuota_ForceBypasses(t *testing.T) {
	tr := &fakeTracker{total: 99}
	q, _ := CheckQuota(context.Background(), tr, DefaultQuotaLimits(), true, discard)
	if q.Blocking || tr.calls != 0 {
		t.Errorf("force: quota = %+v, tracker calls = %d", q, tr.calls)
	}
}

func TestCheckQuota_RatioExcludesLabeled(t *testing.T) {
	_, r := CheckQuota(context.Background(), &fakeTracker{total: 30, labeled: 10, prs: 2}, DefaultQuotaLimits(), false, discard)
	if r.Issues != 20 || r.Ratio != 10 || r.Mode != domain.ModePRCreation {
		t.Errorf("ratio = %+v, want 20 issues, ratio 10, PR_CREATION", r)
	}
}

func newTestGate(t *testing.T, ctl *control.File, repo *fakeRepo, tr *fakeTracker) *Gate {
	t.Helper()
	return &Gate{
		Control:         ctl,
		OpenRepo:        func(string) gitstate.Repo { return repo },
		OpenTracker:     func(string) issues.Tracker { return tr },
		PrimaryBranches: []string{"main", "master"},
		Remote:          "origin",
		Limits:          DefaultQuotaLimits(),
		GitTimeout:      time.Second,
		TrackerTimeout:  time.Second,
		Logger:          discard,
		Now:             func() time.Time { return now },
	}
}

func cleanRepo() *fakeRepo {
	return &fakeRepo{branch: "main", head: "a", remote: "a", remoteURL: "git@github.com:acme/widget.git"}
}

func TestGate_HardCapOverridesPRFocus(t *testing.T) {
	g := newTestGate(t, nil, cleanRepo(), &fakeTracker{total: 60, prs: 15})

	d := g.Check(context.Background(), "/repo", false)
	if d.Status != StatusSkip {
		t.Errorf("Status = %v, want skip", d.Status)
	}
	if d.EnforcementMode != domain.ModePaused {
		t.Errorf("EnforcementMode = %v, want PAUSED", d.EnforcementMode)
	}
	if d.Ratio.Mode != domain.ModePRFocus {
		t.Errorf("Ratio.Mode = %v, want PR_FOCUS", d.Ratio.Mode)
	}
	if d.Status.ExitCode() != 2 {
		t.Errorf("ExitCode() = %d, want 2", d.Status.ExitCode())
	}
}

func TestGate_RatioModes(t *testing.T) {
	tests := []struct {
		name string
		tr   *fakeTracker
		want domain.EnforcementMode
	}{
		{"pr creation", &fakeTracker{total: 20, prs: 2}, domain.ModePRCreation},
		{"pr focus", &fakeTracker{total: 20, prs: 12}, domain.ModePRFocus},
		{"soft cap beats normal ratio", &fakeTracker{total: 30, labeled: 26, prs: 4}, domain.ModeConsolidation},
		{"soft cap loses to pr creation", &fakeTracker{total: 40, labeled: 26, prs: 1}, domain.ModePRCreation},
		{"normal", &fakeTracker{total: 6, prs: 3}, domain.ModeNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestGate(t, nil, cleanRepo(), tt.tr).Check(context.Background(), "/repo", false)
			if d.Status != StatusOK {
				t.Errorf("Status = %v (%s), want ok", d.Status, d.Reason)
			}
			if d.EnforcementMode != tt.want {
				t.Errorf("EnforcementMode = %v, want %v", d.EnforcementMode, tt.want)
			}
		})
	}
}

func TestGate_ControlSkipWinsAndDecrementsOnce(t *testing.T) {
	ctl := writeControl(t, map[string]any{"skip_count": 1})
	repo := &fakeRepo{branch: "feature", head: "a"}
	g := newTestGate(t, ctl, repo, &fakeTracker{total: 70})

	d := g.Check(context.Background(), "/repo", false)
	if d.Status != StatusSkip || !strings.HasPrefix(d.Reason, "Skip count") {
		t.Errorf("decision = %v %q, want control skip", d.Status, d.Reason)
	}
	st, _ := ctl.Load()
	if st.SkipCount != 0 {
		t.Errorf("skip_count = %d, want 0", st.SkipCount)
	}
}

func TestGate_SyncError(t *testing.T) {
	repo := &fakeRepo{branch: "main", head: "b", remote: "c", base: "a"}
	d := newTestGate(t, nil, repo, &fakeTracker{total: 3}).Check(context.Background(), "/repo", false)
	if d.Status != StatusError || d.Reason != "Branch has diverged from origin" {
		t.Errorf("decision = %v %q, want diverged error", d.Status, d.Reason)
	}
	if d.Status.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", d.Status.ExitCode())
	}
}

func TestGate_LookupFailuresDegrade(t *testing.T) {
	repo := &fakeRepo{err: errors.New("git: command not found")}
	tr := &fakeTracker{err: errors.New("gh: command not found")}

	d := newTestGate(t, nil, repo, tr).Check(context.Background(), "/repo", false)
	if d.Status != StatusOK {
		t.Errorf("Status = %v (%s), want ok", d.Status, d.Reason)
	}
	if d.EnforcementMode != domain.ModeNormal {
		t.Errorf("EnforcementMode = %v, want NORMAL", d.EnforcementMode)
	}
	if !d.Sync.Unknown || d.Quota.Total != -1 {
		t.Errorf("signals = %+v / %+v, want neutral", d.Sync, d.Quota)
	}
}

func TestGate_ResolvesChannel(t *testing.T) {
	t.Setenv("SLACK_CHANNEL_ID_WIDGET", "C0123456789")
	g := newTestGate(t, nil, cleanRepo(), &fakeTracker{})
	g.Channels = &channel.Resolver{Secrets: secrets.Env{}}

	d := g.Check(context.Background(), "/repo", false)
	if d.Channel == nil || d.Channel.Channel != "C0123456789" {
		t.Fatalf("Channel = %+v, want C0123456789", d.Channel)
	}
	if d.Channel.RepoName != "widget" {
		t.Errorf("RepoName = %q, want widget", d.Channel.RepoName)
	}
}
