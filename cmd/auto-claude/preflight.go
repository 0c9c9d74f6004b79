package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/auto-claude/internal/preflight"
)

var (
	controlForce bool
	checksForce  bool
)

func init() {
	controlCmd := &cobra.Command{
		Use:   "check-control",
		Short: "Check the control file for a pause or pending skips",
		Args:  cobra.NoArgs,
		RunE:  runCheckControl,
	}
	controlCmd.Flags().BoolVar(&controlForce, "force", false, "ignore pause and skip overrides")
	rootCmd.AddCommand(controlCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "resolve-channel TARGET_DIR",
		Short: "Print the notification channel for a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolveChannel,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check-git TARGET_DIR",
		Short: "Check that a checkout is on its primary branch, clean and in sync",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckGit,
	})

	checksCmd := &cobra.Command{
		Use:   "run-all-checks TARGET_DIR",
		Short: "Run every pre-flight check and print the decision",
		Args:  cobra.ExactArgs(1),
		RunE:  runAllChecks,
	}
	checksCmd.Flags().BoolVar(&checksForce, "force", false, "ignore control overrides and issue quotas")
	rootCmd.AddCommand(checksCmd)
}

func runCheckControl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res := newGate(cfg).CheckControl(controlForce)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else if res.ShouldRun {
		fmt.Fprintln(out, "OK")
	} else {
		fmt.Fprintf(out, "SKIP: %s\n", res.Reason)
	}
	if !res.ShouldRun {
		return exitWith(2, "")
	}
	return nil
}

func runResolveChannel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(2 * cfg.SecretsTimeout())
	defer cancel()

	dir := args[0]
	res := channelResolver(cfg).Resolve(ctx, openRepo(cfg)(dir), dir)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Channel)
	return nil
}

func runCheckGit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res := newGate(cfg).CheckSync(cmd.Context(), args[0])

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	if !res.OK {
		return exitWith(1, "")
	}
	return nil
}

func runAllChecks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// sync, quota and channel lookups each carry their own timeout
	dec := newGate(cfg).Check(cmd.Context(), args[0], checksForce)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, dec); err != nil {
			return err
		}
	} else {
		printDecision(cmd, dec)
	}
	if code := dec.Status.ExitCode(); code != 0 {
		return exitWith(code, "")
	}
	return nil
}

func printDecision(cmd *cobra.Command, dec preflight.Decision) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", dec.Status)
	fmt.Fprintf(out, "Mode: %s\n", dec.EnforcementMode)
	if dec.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", dec.Reason)
	}
	if dec.Quota.Message != "" {
		fmt.Fprintf(out, "Issues: %s\n", dec.Quota.Message)
	}
	if !dec.Ratio.Unknown {
		fmt.Fprintf(out, "Ratio: %d issues / %d PRs\n", dec.Ratio.Issues, dec.Ratio.PRs)
	}
	if dec.Sync.Message != "" {
		fmt.Fprintf(out, "Git: %s\n", dec.Sync.Message)
	}
	channel := ""
	if dec.Channel != nil {
		channel = dec.Channel.Channel
	}
	fmt.Fprintf(out, "Channel: %s\n", channel)
}
