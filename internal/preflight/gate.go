package preflight

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/auto-claude/internal/channel"
	"github.com/hochfrequenz/auto-claude/internal/config"
	"github.com/hochfrequenz/auto-claude/internal/control"
	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/gitstate"
	"github.com/hochfrequenz/auto-claude/internal/issues"
)

// Status is the overall gate outcome
type Status string

const (
	StatusOK    Status = "ok"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// ExitCode maps a status to the process exit code: 0 ok, 1 error, 2 skip
func (s Status) ExitCode() int {
	switch s {
	case StatusSkip:
		return 2
	case StatusError:
		return 1
	default:
		return 0
	}
}

// Decision is the combined result of all signals
type Decision struct {
	Status          Status                 `json:"status"`
	EnforcementMode domain.EnforcementMode `json:"enforcement_mode"`
	Reason          string                 `json:"reason,omitempty"`
	Control         ControlResult          `json:"control"`
	Sync            SyncResult             `json:"git"`
	Quota           QuotaResult            `json:"issues"`
	Ratio           RatioResult            `json:"ratio"`
	Channel         *channel.Resolution    `json:"channel,omitempty"`
}

// Resolve combines the signals. Control skip wins outright, then a hard
// quota breach, then a sync error. The mode is the most severe of the quota
// and ratio modes.
func Resolve(c ControlResult, s SyncResult, q QuotaResult, r RatioResult) Decision {
	d := Decision{
		Status:          StatusOK,
		EnforcementMode: domain.MaxMode(q.Mode, r.Mode),
		Control:         c,
		Sync:            s,
		Quota:           q,
		Ratio:           r,
	}
	switch {
	case !c.ShouldRun:
		d.Status, d.Reason = StatusSkip, c.Reason
	case q.Blocking:
		d.Status, d.Reason = StatusSkip, q.Message
		d.EnforcementMode = domain.ModePaused
	case !s.OK:
		d.Status, d.Reason = StatusError, s.Message
	}
	return d
}

// Gate evaluates every preflight signal for a checkout
type Gate struct {
	Control *control.File
	// OpenRepo and OpenTracker bind the collaborators to a checkout
	OpenRepo    func(dir string) gitstate.Repo
	OpenTracker func(dir string) issues.Tracker
	// Channels is optional; when set the decision carries the resolved channel
	Channels *channel.Resolver

	PrimaryBranches []string
	Remote          string
	Limits          QuotaLimits
	GitTimeout      time.Duration
	TrackerTimeout  time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// NewGate wires a gate from configuration
func NewGate(cfg *config.Config, ctl *control.File, openRepo func(string) gitstate.Repo, openTracker func(string) issues.Tracker) *Gate {
	return &Gate{
		Control:         ctl,
		OpenRepo:        openRepo,
		OpenTracker:     openTracker,
		PrimaryBranches: cfg.Git.PrimaryBranches,
		Remote:          cfg.Git.Remote,
		Limits: QuotaLimits{
			HardCap:      cfg.Governance.IssueHardCap,
			SoftCap:      cfg.Governance.IssueSoftCap,
			TrackedLabel: cfg.Governance.TrackedLabel,
			SubsetLabel:  cfg.Governance.SubsetLabel,
			Author:       cfg.Governance.AutomationAuthor,
		},
		GitTimeout:     cfg.GitTimeout(),
		TrackerTimeout: cfg.TrackerTimeout(),
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// CheckControl evaluates the control signal alone
func (g *Gate) CheckControl(force bool) ControlResult {
	return CheckControl(g.Control, force, g.now(), g.logger())
}

// CheckSync evaluates the sync signal alone, bounded by GitTimeout
func (g *Gate) CheckSync(ctx context.Context, dir string) SyncResult {
	ctx, cancel := withTimeout(ctx, g.GitTimeout)
	defer cancel()
	return CheckSync(ctx, g.OpenRepo(dir), g.PrimaryBranches, g.Remote)
}

// Check runs the control signal first so a skip decrement is persisted
// before anything else, then the git, tracker and channel lookups
// concurrently. Lookups never fail the gate.
func (g *Gate) Check(ctx context.Context, dir string, force bool) Decision {
	ctl := g.CheckControl(force)

	var (
		sync  SyncResult
		quota QuotaResult
		ratio RatioResult
		res   *channel.Resolution
	)
	var eg errgroup.Group
	eg.Go(func() error {
		sync = g.CheckSync(ctx, dir)
		return nil
	})
	eg.Go(func() error {
		tctx, cancel := withTimeout(ctx, g.TrackerTimeout)
		defer cancel()
		quota, ratio = CheckQuota(tctx, g.OpenTracker(dir), g.Limits, force, g.logger())
		return nil
	})
	if g.Channels != nil {
		eg.Go(func() error {
			cctx, cancel := withTimeout(ctx, g.GitTimeout)
			defer cancel()
			r := g.Channels.Resolve(cctx, g.OpenRepo(dir), dir)
			res = &r
			return nil
		})
	}
	_ = eg.Wait()

	d := Resolve(ctl, sync, quota, ratio)
	d.Channel = res
	g.logger().Info("preflight decision",
		"dir", dir,
		"status", d.Status,
		"mode", d.EnforcementMode,
		"reason", d.Reason,
	)
	return d
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
