package gitstate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/runner"
)

func TestRepoNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"git@github.com:hochfrequenz/shop.git", "shop"},
		{"https://github.com/hochfrequenz/shop", "shop"},
		{"https://github.com/hochfrequenz/shop.git/", "shop"},
		{"git@host:infra-tools.git", "infra-tools"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RepoNameFromURL(tt.url); got != tt.want {
			t.Errorf("RepoNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRepoName_Fallback(t *testing.T) {
	fake := runner.NewFake().On("git -C /work/shop remote get-url origin", "git@github.com:org/storefront.git\n")

	if got := RepoName(context.Background(), Open("/work/shop", fake), "/work/shop", "origin"); got != "storefront" {
		t.Errorf("RepoName() = %q, want storefront", got)
	}

	broken := runner.NewFake()
	if got := RepoName(context.Background(), Open("/work/shop", broken), "/work/shop", "origin"); got != "shop" {
		t.Errorf("RepoName() fallback = %q, want shop", got)
	}
}

func TestCLI_Commands(t *testing.T) {
	fake := runner.NewFake().
		On("git -C /r rev-parse --abbrev-ref HEAD", "main\n").
		On("git -C /r status --porcelain", " M file.go\n").
		On("git -C /r fetch origin main --quiet", "").
		On("git -C /r rev-parse origin/main", "abc\n").
		On("git -C /r merge-base HEAD origin/main", "def\n")
	g := Open("/r", fake)
	ctx := context.Background()

	if b, err := g.CurrentBranch(ctx); err != nil || b != "main" {
		t.Errorf("CurrentBranch() = %q, %v", b, err)
	}
	if s, err := g.Status(ctx); err != nil || s != "M file.go" {
		t.Errorf("Status() = %q, %v", s, err)
	}
	if err := g.Fetch(ctx, "origin", "main"); err != nil {
		t.Errorf("Fetch() = %v", err)
	}
	if sha, err := g.RevParse(ctx, "origin/main"); err != nil || sha != "abc" {
		t.Errorf("RevParse() = %q, %v", sha, err)
	}
	if base, err := g.MergeBase(ctx, "HEAD", "origin/main"); err != nil || base != "def" {
		t.Errorf("MergeBase() = %q, %v", base, err)
	}
}

// TestCLI_RealRepository exercises the real git binary when available
func TestCLI_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "README")
	run("-c", "commit.gpgsign=false", "commit", "-q", "-m", "init")

	g := Open(dir, runner.New(10*time.Second))
	ctx := context.Background()

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "main" {
		t.Errorf("CurrentBranch() = %q, want main", branch)
	}
	status, err := g.Status(ctx)
	if err != nil || status != "" {
		t.Errorf("Status() = %q, %v; want clean", status, err)
	}
	if _, err := g.RemoteURL(ctx, "origin"); err == nil {
		t.Error("RemoteURL() without a remote should fail")
	}
}
