package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/anomaly"
	"github.com/hochfrequenz/auto-claude/internal/config"
	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/ingest"
	"github.com/hochfrequenz/auto-claude/internal/notify"
	"github.com/hochfrequenz/auto-claude/internal/report"
)

var (
	monitorRunID   string
	monitorRepo    string
	monitorLogFile string
	monitorChannel string
	monitorDryRun  bool
	digestSince    string
	digestChannel  string
	digestDryRun   bool
	digestDue      bool
)

func init() {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Store a finished run, detect anomalies and alert on them",
		Args:  cobra.NoArgs,
		RunE:  runMonitor,
	}
	monitorCmd.Flags().StringVar(&monitorRunID, "run-id", "", "run identifier")
	monitorCmd.Flags().StringVar(&monitorRepo, "repo", "", "repository name")
	monitorCmd.Flags().StringVar(&monitorLogFile, "log-file", "", "path to the JSONL run log")
	monitorCmd.Flags().StringVar(&monitorChannel, "channel", "", "Slack channel ID (default: resolved for the repo)")
	monitorCmd.Flags().BoolVar(&monitorDryRun, "dry-run", false, "print the alert instead of sending it")
	monitorCmd.MarkFlagRequired("run-id")
	monitorCmd.MarkFlagRequired("repo")
	monitorCmd.MarkFlagRequired("log-file")
	rootCmd.AddCommand(monitorCmd)

	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the periodic report of runs since the last one",
		Args:  cobra.NoArgs,
		RunE:  runDigest,
	}
	digestCmd.Flags().StringVar(&digestSince, "since", "", "report window start (default: last report)")
	digestCmd.Flags().StringVar(&digestChannel, "channel", "", "Slack channel ID (default from config)")
	digestCmd.Flags().BoolVar(&digestDryRun, "dry-run", false, "print the report instead of sending it")
	digestCmd.Flags().BoolVar(&digestDue, "due", false, "only report when the schedule says one is due")
	rootCmd.AddCommand(digestCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	parser := &ingest.Parser{ContextWindow: cfg.General.ContextWindow, Logger: slog.Default()}
	parsed, err := parser.ParseFile(monitorLogFile)
	if err != nil {
		return err
	}
	run := &parsed.Run
	run.RunID = monitorRunID
	run.Repo = monitorRepo
	if _, err := store.IngestRun(run, parsed.Units); err != nil {
		// detection still runs on the parsed record
		slog.Error("failed to store run", "run_id", run.RunID, "error", err)
	}

	det := anomaly.New(store)
	det.Thresholds = anomaly.ThresholdsFromConfig(cfg.Anomaly)
	anomalies := det.CheckRun(cmd.Context(), run)

	out := cmd.OutOrStdout()
	if len(anomalies) == 0 {
		fmt.Fprintf(out, "No anomalies detected for run %s\n", run.RunID)
		return nil
	}
	alertable := domain.Alertable(anomalies)
	if len(alertable) == 0 {
		fmt.Fprintf(out, "Low-severity anomalies only, not alerting (%d)\n", len(anomalies))
		for _, a := range anomalies {
			slog.Info("low severity anomaly", "run_id", run.RunID, "type", a.Type, "message", a.Message)
		}
		return nil
	}

	n := notify.AlertFor(run, alertable)
	if monitorDryRun {
		return printNotification(out, n, alertable)
	}

	channel := monitorChannel
	if channel == "" {
		ctx, cancel := contextWithTimeout(2 * cfg.SecretsTimeout())
		channel = channelResolver(cfg).ResolveName(ctx, run.Repo).Channel
		cancel()
	}
	n.Channel = channel
	return deliver(cmd, cfg, n, "alert")
}

func runDigest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sched, err := report.ParseSchedule(cfg.Reports.Schedule)
	if err != nil {
		return &config.Error{Key: "reports.schedule", Err: err}
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	b := report.NewBuilder(store, sched)
	if cfg.Reports.ReportType != "" {
		b.Type = cfg.Reports.ReportType
	}
	if cfg.Anomaly.BaselineDays > 0 {
		b.BaselineDays = cfg.Anomaly.BaselineDays
	}

	out := cmd.OutOrStdout()
	if digestDue {
		due, err := b.Due()
		if err != nil {
			return err
		}
		if !due {
			fmt.Fprintln(out, "No report due")
			return nil
		}
	}

	var since time.Time
	if digestSince != "" {
		since, err = parseSince(digestSince, time.Now())
	} else {
		since, err = b.Since()
	}
	if err != nil {
		return err
	}

	d, err := b.Build(since)
	if err != nil {
		return err
	}
	n := d.Notification()
	if digestDryRun {
		if jsonOutput {
			return writeJSON(out, d)
		}
		return printNotification(out, n, nil)
	}

	n.Channel = digestChannel
	if n.Channel == "" {
		n.Channel = cfg.Notifications.DefaultChannel
	}
	if err := deliver(cmd, cfg, n, "report"); err != nil {
		return err
	}
	if _, err := b.Commit(d); err != nil {
		return fmt.Errorf("recording report checkpoint: %w", err)
	}
	return nil
}

// deliver sends n and reports a failed delivery with exit code 1
func deliver(cmd *cobra.Command, cfg *config.Config, n notify.Notification, what string) error {
	notifier := newNotifier(cfg, n.Channel)
	if err := notifier.Send(n); err != nil {
		return exitWith(1, "Failed to send %s: %v", what, err)
	}
	slog.Info("notification sent", "kind", what, "channel", n.Channel, "run_id", n.RunID)
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", what)
	return nil
}

func printNotification(w io.Writer, n notify.Notification, anomalies []domain.Anomaly) error {
	if jsonOutput {
		return writeJSON(w, map[string]any{
			"title":     n.Title,
			"message":   n.Message,
			"anomalies": anomalies,
		})
	}
	fmt.Fprintf(w, "[DRY RUN] %s\n\n%s\n", n.Title, n.Message)
	return nil
}
