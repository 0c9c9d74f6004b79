package preflight

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/issues"
)

// QuotaLimits configures the quota and ratio signals
type QuotaLimits struct {
	HardCap int
	SoftCap int
	// TrackedLabel restricts the hard-cap count; empty counts every open issue
	TrackedLabel string
	// SubsetLabel marks issues raised by the automation itself
	SubsetLabel string
	// Author selects the automation's pull requests
	Author string
}

// DefaultQuotaLimits returns the stock caps
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{HardCap: 50, SoftCap: 25, SubsetLabel: "ai-created", Author: "@me"}
}

// QuotaResult is the outcome of the quota signal. Counts are -1 when the
// tracker could not be queried.
type QuotaResult struct {
	Total    int                    `json:"total"`
	Labeled  int                    `json:"labeled"`
	Mode     domain.EnforcementMode `json:"mode"`
	Blocking bool                   `json:"blocking"`
	// SkipIssueCreation tells the run not to open new issues
	SkipIssueCreation bool   `json:"skip_issue_creation"`
	Message           string `json:"message"`
}

// RatioResult is the outcome of the issue-to-PR ratio signal
type RatioResult struct {
	Issues int                    `json:"issues"`
	PRs    int                    `json:"prs"`
	Ratio  float64                `json:"ratio"`
	Mode   domain.EnforcementMode `json:"mode"`
	// Unknown is set when the counts could not be fetched
	Unknown bool `json:"unknown,omitempty"`
}

// ResolveRatioMode derives the mode from open issue and PR counts. The
// branches are evaluated in order and the first match wins.
func ResolveRatioMode(issueCount, prCount int) (float64, domain.EnforcementMode) {
	ratio := float64(issueCount) / float64(max(prCount, 1))
	switch {
	case prCount >= 10:
		return ratio, domain.ModePRFocus
	case ratio > 5 && prCount < 3:
		return ratio, domain.ModePRCreation
	case ratio > 3 && prCount < 5:
		return ratio, domain.ModeConsolidation
	default:
		return ratio, domain.ModeNormal
	}
}

// EvaluateQuota applies the caps to known counts
func EvaluateQuota(total, labeled int, limits QuotaLimits) QuotaResult {
	res := QuotaResult{Total: total, Labeled: labeled, Mode: domain.ModeNormal}
	switch {
	case total >= limits.HardCap:
		res.Mode = domain.ModePaused
		res.Blocking = true
		res.SkipIssueCreation = true
		res.Message = fmt.Sprintf("Issue hard cap reached (%d/%d)", total, limits.HardCap)
	case labeled >= limits.SoftCap:
		res.Mode = domain.ModeConsolidation
		res.SkipIssueCreation = true
		res.Message = fmt.Sprintf("Issue soft cap reached (%d/%d %s). Skipping issue creation.", labeled, limits.SoftCap, limits.SubsetLabel)
	default:
		res.Message = fmt.Sprintf("OK: %d open issues, %d %s", total, labeled, limits.SubsetLabel)
	}
	return res
}

func neutralQuota(message string) QuotaResult {
	return QuotaResult{Total: -1, Labeled: -1, Mode: domain.ModeNormal, Message: message}
}

func neutralRatio() RatioResult {
	return RatioResult{Issues: -1, PRs: -1, Mode: domain.ModeNormal, Unknown: true}
}

// CheckQuota counts open issues and PRs and evaluates the quota and ratio
// signals. Either lookup failing degrades the signals that depend on it to
// NORMAL. Force bypasses both.
func CheckQuota(ctx context.Context, t issues.Tracker, limits QuotaLimits, force bool, logger *slog.Logger) (QuotaResult, RatioResult) {
	if force {
		return neutralQuota("Bypassed (force)"), neutralRatio()
	}
	if logger == nil {
		logger = slog.Default()
	}

	total, err := t.CountOpenIssues(ctx, limits.TrackedLabel)
	if err != nil {
		logger.Warn("issue count unavailable", "error", err)
		return neutralQuota("Warning: issue tracker check failed"), neutralRatio()
	}
	labeled := 0
	if limits.SubsetLabel != "" {
		if labeled, err = t.CountOpenIssues(ctx, limits.SubsetLabel); err != nil {
			logger.Warn("labeled issue count unavailable", "label", limits.SubsetLabel, "error", err)
			return neutralQuota("Warning: issue tracker check failed"), neutralRatio()
		}
	}
	quota := EvaluateQuota(total, labeled, limits)

	prs, err := t.CountOpenPRs(ctx, limits.Author)
	if err != nil {
		logger.Warn("pull request count unavailable", "author", limits.Author, "error", err)
		return quota, neutralRatio()
	}
	ratio := RatioResult{Issues: max(total-labeled, 0), PRs: prs}
	ratio.Ratio, ratio.Mode = ResolveRatioMode(ratio.Issues, prs)
	return quota, ratio
}
