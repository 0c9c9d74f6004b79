package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/auto-claude/internal/channel"
	"github.com/hochfrequenz/auto-claude/internal/config"
	"github.com/hochfrequenz/auto-claude/internal/control"
	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/events"
	"github.com/hochfrequenz/auto-claude/internal/gitstate"
	"github.com/hochfrequenz/auto-claude/internal/issues"
	"github.com/hochfrequenz/auto-claude/internal/notify"
	"github.com/hochfrequenz/auto-claude/internal/preflight"
	"github.com/hochfrequenz/auto-claude/internal/runner"
	"github.com/hochfrequenz/auto-claude/internal/runstore"
	"github.com/hochfrequenz/auto-claude/internal/secrets"
)

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	return runstore.New(cfg.General.DatabasePath)
}

func controlFile(cfg *config.Config) *control.File {
	return &control.File{Path: cfg.General.ControlFile}
}

func secretProvider(cfg *config.Config) secrets.Chain {
	return secrets.NewDefault(secrets.NewEnvFile(cfg.Secrets.EnvFile), cfg.Secrets.BWSBinary, runner.New(cfg.SecretsTimeout()))
}

func channelResolver(cfg *config.Config) *channel.Resolver {
	return &channel.Resolver{
		Secrets:  secretProvider(cfg),
		Fallback: cfg.Notifications.DefaultChannel,
		Remote:   cfg.Git.Remote,
	}
}

func openRepo(cfg *config.Config) func(string) gitstate.Repo {
	r := runner.New(cfg.GitTimeout())
	return func(dir string) gitstate.Repo { return gitstate.Open(dir, r) }
}

func newGate(cfg *config.Config) *preflight.Gate {
	tr := runner.New(cfg.TrackerTimeout())
	g := preflight.NewGate(cfg, controlFile(cfg), openRepo(cfg), func(dir string) issues.Tracker {
		return issues.NewFetcher(dir, tr)
	})
	g.Channels = channelResolver(cfg)
	return g
}

func newEmitter(cfg *config.Config) *events.Emitter {
	return events.NewEmitter(cfg.General.EventsLog)
}

// newNotifier builds the alert sink: the Slack Web API when a bot token can
// be resolved, else the webhook, plus desktop notifications when enabled.
func newNotifier(cfg *config.Config, channelID string) notify.Notifier {
	var sinks []notify.Notifier
	var slack *notify.SlackNotifier

	if key := cfg.Notifications.SlackTokenSecret; key != "" {
		ctx, cancel := contextWithTimeout(cfg.SecretsTimeout())
		token, err := secretProvider(cfg).GetSecret(ctx, key)
		cancel()
		if err == nil {
			slack = notify.NewSlackAPINotifier(token, channelID)
		} else {
			slog.Debug("slack token unavailable", "key", key, "reason", secrets.ReasonOf(err))
		}
	}
	if slack == nil && cfg.Notifications.SlackWebhook != "" {
		slack = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}
	if slack != nil {
		sinks = append(sinks, slack)
	}
	if cfg.Notifications.Desktop {
		sinks = append(sinks, notify.NewDesktopNotifier(true, nil))
	}
	if len(sinks) == 0 {
		slog.Warn("no notification sink configured")
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(sinks...)
}

// parseSince accepts a timestamp or a look-back such as 24h or 7d
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := domain.ParseTimestamp(s); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.Add(-time.Duration(n) * 24 * time.Hour), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a timestamp or a duration like 24h or 7d", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
