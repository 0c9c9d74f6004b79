package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/ingest"
)

var (
	insertRunID   string
	insertRepo    string
	insertLogFile string
	querySince    string
	queryRepo     string
	queryFormat   string
	summarySince  string
	effSince      string
	backfillDays  int
	backfillDir   string
)

func init() {
	insertCmd := &cobra.Command{
		Use:   "insert-run",
		Short: "Parse a run log and store the run with its work units",
		RunE:  runInsertRun,
	}
	insertCmd.Flags().StringVar(&insertRunID, "run-id", "", "run identifier")
	insertCmd.Flags().StringVar(&insertRepo, "repo", "", "repository name")
	insertCmd.Flags().StringVar(&insertLogFile, "log-file", "", "path to the JSONL run log")
	insertCmd.MarkFlagRequired("run-id")
	insertCmd.MarkFlagRequired("repo")
	insertCmd.MarkFlagRequired("log-file")
	rootCmd.AddCommand(insertCmd)

	queryCmd := &cobra.Command{
		Use:   "query-runs",
		Short: "List runs started since a timestamp",
		RunE:  runQueryRuns,
	}
	queryCmd.Flags().StringVar(&querySince, "since", "", "timestamp or look-back such as 24h or 7d")
	queryCmd.Flags().StringVar(&queryRepo, "repo", "", "filter by repository")
	queryCmd.Flags().StringVar(&queryFormat, "format", "json", "output format: json, yaml or table")
	queryCmd.MarkFlagRequired("since")
	rootCmd.AddCommand(queryCmd)

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate token and output totals since a timestamp",
		RunE:  runSummary,
	}
	summaryCmd.Flags().StringVar(&summarySince, "since", "", "timestamp or look-back such as 24h or 7d")
	summaryCmd.MarkFlagRequired("since")
	rootCmd.AddCommand(summaryCmd)

	effCmd := &cobra.Command{
		Use:   "efficiency",
		Short: "Per-run tokens per work unit since a timestamp, worst first",
		RunE:  runEfficiency,
	}
	effCmd.Flags().StringVar(&effSince, "since", "", "timestamp or look-back such as 24h or 7d")
	effCmd.MarkFlagRequired("since")
	rootCmd.AddCommand(effCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest existing run logs",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().IntVar(&backfillDays, "days", 30, "only logs modified within this many days")
	backfillCmd.Flags().StringVar(&backfillDir, "logs-dir", "", "logs directory (default from config)")
	rootCmd.AddCommand(backfillCmd)
}

func runInsertRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return exitWith(1, "Failed to insert run: %v", err)
	}
	defer store.Close()

	parser := &ingest.Parser{ContextWindow: cfg.General.ContextWindow, Logger: slog.Default()}
	units, err := ingest.IngestFile(store, parser, insertLogFile, insertRunID, insertRepo)
	if err != nil {
		return exitWith(1, "Failed to insert run: %v", err)
	}
	slog.Debug("run stored", "run_id", insertRunID, "work_units", units)
	fmt.Fprintf(cmd.OutOrStdout(), "Inserted run %s\n", insertRunID)
	return nil
}

func runQueryRuns(cmd *cobra.Command, args []string) error {
	since, err := parseSince(querySince, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.QueryRunsSince(since, queryRepo)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}

	out := cmd.OutOrStdout()
	switch queryFormat {
	case "json":
		return writeJSON(out, runs)
	case "yaml":
		return writeYAML(out, runs)
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tREPO\tSTARTED\tTOKENS\tUNITS\tEXIT")
		for _, r := range runs {
			started, exit := "-", "-"
			if r.StartedAt != nil {
				started = domain.FormatTimestamp(*r.StartedAt)
			}
			if r.ExitCode != nil {
				exit = fmt.Sprint(*r.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				r.RunID, r.Repo, started, domain.FormatNumber(r.TotalTokens()), r.WorkUnits(), exit)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown --format %q: want json, yaml or table", queryFormat)
	}
}

func runSummary(cmd *cobra.Command, args []string) error {
	since, err := parseSince(summarySince, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.SummarySince(since)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}

func runEfficiency(cmd *cobra.Command, args []string) error {
	since, err := parseSince(effSince, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	breakdown, err := store.EfficiencyBreakdown(since)
	if err != nil {
		return err
	}
	if breakdown == nil {
		return writeJSON(cmd.OutOrStdout(), []any{})
	}
	return writeJSON(cmd.OutOrStdout(), breakdown)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := backfillDir
	if dir == "" {
		dir = cfg.General.LogsDir
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	b := &ingest.Backfiller{
		Sink:   store,
		Parser: &ingest.Parser{ContextWindow: cfg.General.ContextWindow, Logger: slog.Default()},
		Logger: slog.Default(),
	}
	res, err := b.Run(cmd.Context(), dir, backfillDays)
	if err != nil && !errors.Is(err, cmd.Context().Err()) {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backfilled %d runs\n", res.Runs)
	return nil
}
