package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/events"
	"github.com/hochfrequenz/auto-claude/internal/ingest"
)

var (
	ctxRunID     string
	ctxRepo      string
	ctxThreshold float64
	emitRunID    string
	emitRepo     string
	emitExitCode int
	emitDuration int64
	emitBudget   float64
	emitExtra    []string
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "token-usage LOG_FILE",
		Short: "Print the input plus output tokens of a run log",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenUsage,
	})

	contextCmd := &cobra.Command{
		Use:   "check-context LOG_FILE",
		Short: "Record context usage and warn when it exceeds a threshold",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckContext,
	}
	contextCmd.Flags().StringVar(&ctxRunID, "run-id", "", "run identifier")
	contextCmd.Flags().StringVar(&ctxRepo, "repo", "", "repository name")
	contextCmd.Flags().Float64Var(&ctxThreshold, "threshold", 90, "warning threshold in percent")
	contextCmd.MarkFlagRequired("run-id")
	contextCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(contextCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "update-control REPO",
		Short: "Stamp the control file with the latest run",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdateControl,
	})

	emitCmd := &cobra.Command{
		Use:   "emit-event TYPE",
		Short: "Append a lifecycle event to the events log",
		Args:  cobra.ExactArgs(1),
		RunE:  runEmitEvent,
	}
	emitCmd.Flags().StringVar(&emitRunID, "run-id", "", "run identifier")
	emitCmd.Flags().StringVar(&emitRepo, "repo", "", "repository name")
	emitCmd.Flags().IntVar(&emitExitCode, "exit-code", 0, "exit code of the run")
	emitCmd.Flags().Int64Var(&emitDuration, "duration", 0, "duration in seconds")
	emitCmd.Flags().Float64Var(&emitBudget, "budget", 0, "budget in USD")
	emitCmd.Flags().StringArrayVar(&emitExtra, "extra", nil, "extra key=value field, repeatable")
	emitCmd.MarkFlagRequired("run-id")
	emitCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(emitCmd)
}

func runTokenUsage(cmd *cobra.Command, args []string) error {
	total, err := ingest.TokenUsageFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), total)
	return nil
}

// ContextUsage is the check-context report
type ContextUsage struct {
	TokensUsed        int64   `json:"tokens_used"`
	TokensRemaining   int64   `json:"tokens_remaining"`
	UsagePct          float64 `json:"usage_pct"`
	ContextWindow     int64   `json:"context_window"`
	ExceededThreshold bool    `json:"exceeded_threshold"`
}

func measureContext(tokens, window int64, threshold float64) ContextUsage {
	u := ContextUsage{
		TokensUsed:      tokens,
		TokensRemaining: window - tokens,
		ContextWindow:   window,
	}
	if window > 0 {
		u.UsagePct = float64(tokens) * 100 / float64(window)
	}
	u.ExceededThreshold = u.UsagePct > threshold
	return u
}

func runCheckContext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tokens, err := ingest.TokenUsageFile(args[0])
	if err != nil {
		return err
	}
	window := cfg.General.ContextWindow
	if window <= 0 {
		window = domain.DefaultContextWindow
	}
	usage := measureContext(tokens, window, ctxThreshold)

	em := newEmitter(cfg)
	if _, err := em.Emit(events.TypeContextCheckpoint, ctxRunID, ctxRepo, map[string]any{
		"tokens_used":      usage.TokensUsed,
		"tokens_remaining": usage.TokensRemaining,
		"usage_pct":        usage.UsagePct,
		"context_window":   usage.ContextWindow,
	}); err != nil {
		slog.Warn("failed to emit event", "event", events.TypeContextCheckpoint, "error", err)
	}
	if usage.ExceededThreshold {
		if _, err := em.Emit(events.TypeContextWarning, ctxRunID, ctxRepo, map[string]any{
			"usage_pct": usage.UsagePct,
			"reason":    "exceeded_threshold",
		}); err != nil {
			slog.Warn("failed to emit event", "event", events.TypeContextWarning, "error", err)
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), usage); err != nil {
		return err
	}
	if usage.ExceededThreshold {
		return exitWith(1, "")
	}
	return nil
}

func runUpdateControl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := controlFile(cfg).StampLastRun(args[0], time.Now()); err != nil {
		slog.Warn("control file not updated", "path", cfg.General.ControlFile, "error", err)
		fmt.Fprintln(cmd.OutOrStdout(), "FAILED")
		return exitWith(1, "")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

func runEmitEvent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	extra := events.ParseExtra(emitExtra)
	var exitCode *int
	var duration *int64
	var budget *float64
	if cmd.Flags().Changed("exit-code") {
		exitCode = &emitExitCode
	}
	if cmd.Flags().Changed("duration") {
		duration = &emitDuration
	}
	// a budget passed as an extra field takes precedence over --budget
	if _, ok := extra["budget"]; !ok && cmd.Flags().Changed("budget") {
		budget = &emitBudget
	}

	fields := events.Merge(extra, events.RunFields(exitCode, duration, budget))
	ev, err := newEmitter(cfg).Emit(args[0], emitRunID, emitRepo, fields)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), ev)
}
