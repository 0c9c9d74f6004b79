// Package issues counts open issues and pull requests through the gh CLI
package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hochfrequenz/auto-claude/internal/runner"
)

// DefaultLimit caps how many items a single gh list call returns. gh lists
// 30 items unless told otherwise, which would hide a breached quota.
const DefaultLimit = 1000

// Tracker is the issue/PR view the gate needs
type Tracker interface {
	// CountOpenIssues counts open issues, restricted to label when non-empty
	CountOpenIssues(ctx context.Context, label string) (int, error)
	// CountOpenPRs counts open pull requests, restricted to author when non-empty
	CountOpenPRs(ctx context.Context, author string) (int, error)
}

// Fetcher queries GitHub via gh from inside a checkout
type Fetcher struct {
	// Dir is the checkout gh runs in; it selects the repository
	Dir string
	// Repo overrides the repository as owner/name
	Repo   string
	Limit  int
	Runner runner.Runner
}

// NewFetcher creates a Fetcher for the checkout at dir
func NewFetcher(dir string, r runner.Runner) *Fetcher {
	return &Fetcher{Dir: dir, Runner: r, Limit: DefaultLimit}
}

type ghItem struct {
	Number int `json:"number"`
}

func parseCount(data []byte) (int, error) {
	var items []ghItem
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("parse gh output: %w", err)
	}
	return len(items), nil
}

func (f *Fetcher) list(ctx context.Context, kind string, filter ...string) (int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	// gh issue list --state open --label ai-created --json number --limit 1000
	args := []string{kind, "list", "--state", "open"}
	args = append(args, filter...)
	args = append(args, "--json", "number", "--limit", strconv.Itoa(limit))
	if f.Repo != "" {
		args = append(args, "--repo", f.Repo)
	}

	out, err := f.Runner.Run(ctx, runner.Command{Dir: f.Dir, Name: "gh", Args: args})
	if err != nil {
		return 0, fmt.Errorf("gh %s list: %w", kind, err)
	}
	return parseCount(out)
}

// CountOpenIssues implements Tracker
func (f *Fetcher) CountOpenIssues(ctx context.Context, label string) (int, error) {
	if label == "" {
		return f.list(ctx, "issue")
	}
	return f.list(ctx, "issue", "--label", label)
}

// CountOpenPRs implements Tracker
func (f *Fetcher) CountOpenPRs(ctx context.Context, author string) (int, error) {
	if author == "" {
		return f.list(ctx, "pr")
	}
	return f.list(ctx, "pr", "--author", author)
}
