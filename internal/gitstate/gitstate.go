// Package gitstate queries the state of a local git checkout through the git CLI
package gitstate

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/auto-claude/internal/runner"
)

// Repo is the source-control view the gate needs
type Repo interface {
	CurrentBranch(ctx context.Context) (string, error)
	// Status returns `git status --porcelain`; empty means a clean tree
	Status(ctx context.Context) (string, error)
	Fetch(ctx context.Context, remote, branch string) error
	RevParse(ctx context.Context, ref string) (string, error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	RemoteURL(ctx context.Context, remote string) (string, error)
}

// CLI runs git against the checkout at Dir
type CLI struct {
	Dir    string
	Runner runner.Runner
}

// Open returns a CLI for dir
func Open(dir string, r runner.Runner) *CLI {
	return &CLI{Dir: dir, Runner: r}
}

func (g *CLI) git(ctx context.Context, args ...string) (string, error) {
	out, err := g.Runner.Run(ctx, runner.Command{
		Name: "git",
		Args: append([]string{"-C", g.Dir}, args...),
	})
	return strings.TrimSpace(string(out)), err
}

// CurrentBranch returns the checked out branch name
func (g *CLI) CurrentBranch(ctx context.Context) (string, error) {
	return g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Status returns the porcelain status output
func (g *CLI) Status(ctx context.Context) (string, error) {
	return g.git(ctx, "status", "--porcelain")
}

// Fetch updates remote-tracking refs for branch
func (g *CLI) Fetch(ctx context.Context, remote, branch string) error {
	_, err := g.git(ctx, "fetch", remote, branch, "--quiet")
	return err
}

// RevParse resolves ref to a commit SHA
func (g *CLI) RevParse(ctx context.Context, ref string) (string, error) {
	return g.git(ctx, "rev-parse", ref)
}

// MergeBase returns the best common ancestor of a and b
func (g *CLI) MergeBase(ctx context.Context, a, b string) (string, error) {
	return g.git(ctx, "merge-base", a, b)
}

// RemoteURL returns the fetch URL of remote
func (g *CLI) RemoteURL(ctx context.Context, remote string) (string, error) {
	return g.git(ctx, "remote", "get-url", remote)
}

// RepoNameFromURL extracts the repository name from a remote URL such as
// git@github.com:org/shop.git or https://github.com/org/shop
func RepoNameFromURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return strings.TrimSuffix(url, ".git")
}

// RepoName names the repository at dir after its remote, falling back to
// the directory name when the remote cannot be read.
func RepoName(ctx context.Context, repo Repo, dir, remote string) string {
	if repo != nil {
		if url, err := repo.RemoteURL(ctx, remote); err == nil {
			if name := RepoNameFromURL(url); name != "" {
				return name
			}
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return filepath.Base(abs)
}
