// Package channel resolves the notification channel for a repository
package channel

import (
	"context"
	"strings"

	"github.com/hochfrequenz/auto-claude/internal/gitstate"
	"github.com/hochfrequenz/auto-claude/internal/secrets"
)

// Source records where a channel came from
type Source string

const (
	SourceSecret   Source = "secret"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// FallbackKey names the default channel entry
const FallbackKey = "SLACK_DEFAULT_CHANNEL"

// Resolution is the outcome of a channel lookup
type Resolution struct {
	Channel   string `json:"channel"`
	Source    Source `json:"source"`
	RepoName  string `json:"repo_name"`
	SecretKey string `json:"keychain_key"`
}

// Found reports whether any channel was resolved
func (r Resolution) Found() bool {
	return r.Channel != ""
}

// SanitizeRepoName converts a repository name to secret-key form:
// upper case with dashes and dots replaced by underscores.
func SanitizeRepoName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(name))
}

// KeyFor returns the per-repository secret key, e.g. SLACK_CHANNEL_ID_MY_REPO
func KeyFor(repoName string) string {
	return "SLACK_CHANNEL_ID_" + SanitizeRepoName(repoName)
}

// Resolver finds the channel for a checkout
type Resolver struct {
	Secrets secrets.Provider
	// Fallback is used when the repository has no channel of its own
	Fallback string
	Remote   string
}

// Resolve names the repository at dir, then looks up its channel key; when
// that misses it falls back to the configured or stored default channel.
func (r *Resolver) Resolve(ctx context.Context, repo gitstate.Repo, dir string) Resolution {
	remote := r.Remote
	if remote == "" {
		remote = "origin"
	}
	return r.ResolveName(ctx, gitstate.RepoName(ctx, repo, dir, remote))
}

// ResolveName looks up the channel of a repository known only by name
func (r *Resolver) ResolveName(ctx context.Context, name string) Resolution {
	res := Resolution{RepoName: name, SecretKey: KeyFor(name), Source: SourceNone}

	if r.Secrets != nil {
		if ch, err := r.Secrets.GetSecret(ctx, res.SecretKey); err == nil {
			res.Channel, res.Source = ch, SourceSecret
			return res
		}
	}

	if r.Fallback != "" {
		res.Channel, res.Source = r.Fallback, SourceFallback
		return res
	}
	if r.Secrets != nil {
		if ch, err := r.Secrets.GetSecret(ctx, FallbackKey); err == nil {
			res.Channel, res.Source = ch, SourceFallback
		}
	}
	return res
}
