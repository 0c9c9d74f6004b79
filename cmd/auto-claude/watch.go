package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/ingest"
)

var watchDir string

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest run logs as they complete until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchDir, "logs-dir", "", "logs directory (default from config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := watchDir
	if dir == "" {
		dir = cfg.General.LogsDir
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := ingest.NewWatcher(dir, store, slog.Default())
	if err != nil {
		return err
	}
	w.SetParser(&ingest.Parser{ContextWindow: cfg.General.ContextWindow, Logger: slog.Default()})
	w.SetCallback(func(path string, units int, err error) {
		if err != nil {
			slog.Warn("log not ingested", "file", path, "error", err)
		}
	})

	ctx := cmd.Context()
	w.Start(ctx)
	defer w.Stop()
	slog.Info("watching run logs", "dir", dir)

	<-ctx.Done()
	slog.Info("watch stopped")
	return nil
}
