package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/runner"
	"github.com/hochfrequenz/auto-claude/tui"
)

var statusWidth int

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show control state, the last 24 hours and recent logs",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().IntVar(&statusWidth, "width", 72, "render width")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	now := time.Now()

	sessions := tui.ActiveSessions(cmd.Context(), runner.New(5*time.Second))
	s := tui.Status{
		Control: tui.ReadControlStatus(controlFile(cfg), sessions, now),
		Logs:    tui.RecentLogs(cfg.General.LogsDir, 5),
	}

	// the screen still renders when the store is unavailable
	if store, err := openStore(cfg); err == nil {
		defer store.Close()
		since := now.Add(-24 * time.Hour)
		if s.Summary, err = store.SummarySince(since); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "summary unavailable: %v\n", err)
		}
		if runs, err := store.QueryRunsSince(now.Add(-7*24*time.Hour), ""); err == nil && len(runs) > 0 {
			s.LastRun = runs[len(runs)-1]
		}
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), s)
	}
	fmt.Fprint(cmd.OutOrStdout(), tui.Render(s, statusWidth))
	return nil
}
