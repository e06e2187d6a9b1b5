package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runJobID int64

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job now and wait for it to finish",
	Example: `  scraper run --job 42
  scraper run --job 42 --config prod.yaml`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().Int64Var(&runJobID, "job", 0, "id of the job to run")
	_ = runCmd.MarkFlagRequired("job")
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.runner.RunNow(ctx, runJobID)
	if err != nil {
		return fmt.Errorf("run job %d: %w", runJobID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: fetched=%d matched=%d duplicates=%d inserted=%d scored=%d notified=%d source_errors=%d duration=%s\n",
		stats.RunID, stats.Fetched, stats.Matched, stats.Duplicates, stats.Inserted,
		stats.Scored, stats.Notified, stats.SourceErrors, stats.Duration,
	)
	return nil
}
