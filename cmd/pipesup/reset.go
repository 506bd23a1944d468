package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/logging"
	"github.com/silver2dream/pipesup/internal/reset"
)

func newResetCmd(root *rootOptions) *cobra.Command {
	var (
		dryRun   bool
		keepRuns int
		keepLogs int
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear breaker, heartbeat, control and stale lock state",
		Long: `Remove the state files a previous run left in .ai/state. A live worker's
PID file and a live supervisor's lock are never removed.

--keep-runs and --keep-logs also prune old event traces and phase logs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootDir, err := root.workspaceRoot()
			if err != nil {
				return err
			}
			paths := config.NewPaths(rootDir)
			output := logging.NewOutputFormatter(cmd.OutOrStdout())

			if holder := lock.Holder(paths.LockFile); holder != nil {
				return pserrors.NewValidationError(fmt.Sprintf(
					"supervisor PID %d is running; run pipesup stop first", holder.PID))
			}

			r := reset.New(paths)
			r.SetDryRun(dryRun)

			results := r.ResetAll()
			if cmd.Flags().Changed("keep-runs") {
				results = append(results, r.PruneEvents(keepRuns)...)
			}
			if cmd.Flags().Changed("keep-logs") {
				results = append(results, r.PruneLogs(keepLogs)...)
			}

			failed := 0
			for _, res := range results {
				line := fmt.Sprintf("%s: %s", res.Name, res.Message)
				if !res.Success {
					failed++
					output.Error(line)
					continue
				}
				output.Success(line)
			}
			if failed > 0 {
				return pserrors.NewGeneralErrorWithCause("reset incomplete", fmt.Errorf("%d operations failed", failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted")
	cmd.Flags().IntVar(&keepRuns, "keep-runs", 0, "keep only the newest N event traces")
	cmd.Flags().IntVar(&keepLogs, "keep-logs", 0, "keep only the newest N phase logs")
	return cmd
}
