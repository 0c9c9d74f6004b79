package preflight

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hochfrequenz/auto-claude/internal/gitstate"
)

// SyncResult is the outcome of the source-control signal
type SyncResult struct {
	OK        bool   `json:"ok"`
	Branch    string `json:"branch,omitempty"`
	Clean     bool   `json:"clean"`
	Synced    bool   `json:"synced"`
	Ahead     bool   `json:"ahead,omitempty"`
	NeedsPull bool   `json:"needs_pull,omitempty"`
	// Unknown is set when git could not be queried; the signal is then neutral
	Unknown bool   `json:"unknown,omitempty"`
	Message string `json:"message"`
}

func unknownSync(branch string, err error) SyncResult {
	return SyncResult{
		OK:      true,
		Branch:  branch,
		Clean:   true,
		Synced:  true,
		Unknown: true,
		Message: fmt.Sprintf("Not a git repository or git unavailable: %v", err),
	}
}

// CheckSync requires a clean checkout of one of the primary branches that has
// not diverged from remote. Ahead and behind are tolerated. Any failing git
// query yields a neutral result with Unknown set.
func CheckSync(ctx context.Context, repo gitstate.Repo, primary []string, remote string) SyncResult {
	if remote == "" {
		remote = "origin"
	}

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return unknownSync("", err)
	}
	res := SyncResult{OK: true, Branch: branch, Clean: true, Synced: true, Message: "Git checks passed"}

	if !slices.Contains(primary, branch) {
		res.OK = false
		res.Message = fmt.Sprintf("Not on %s branch (on: %s)", strings.Join(primary, "/"), branch)
		return res
	}

	status, err := repo.Status(ctx)
	if err != nil {
		return unknownSync(branch, err)
	}
	if strings.TrimSpace(status) != "" {
		res.OK = false
		res.Clean = false
		res.Message = "Working tree has uncommitted changes"
		return res
	}

	// A failed fetch leaves the last known remote ref to compare against
	_ = repo.Fetch(ctx, remote, branch)

	local, err := repo.RevParse(ctx, "HEAD")
	if err != nil {
		return unknownSync(branch, err)
	}
	upstream := remote + "/" + branch
	remoteSHA, err := repo.RevParse(ctx, upstream)
	if err != nil || remoteSHA == "" || remoteSHA == local {
		// No remote branch to compare with, or identical
		return res
	}

	base, err := repo.MergeBase(ctx, "HEAD", upstream)
	if err != nil {
		return unknownSync(branch, err)
	}
	switch base {
	case remoteSHA:
		res.Ahead = true
		res.Message = fmt.Sprintf("Local is ahead of %s (unpushed commits)", remote)
	case local:
		res.NeedsPull = true
		res.Message = fmt.Sprintf("Local is behind %s (needs pull)", remote)
	default:
		res.OK = false
		res.Synced = false
		res.Message = fmt.Sprintf("Branch has diverged from %s", remote)
	}
	return res
}
