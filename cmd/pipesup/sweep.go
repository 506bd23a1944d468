package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/logging"
	"github.com/silver2dream/pipesup/internal/reclaim"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim processes and ports left behind by workers",
		Long: `Terminate the worker named by a stale PID file, processes matching
reclaim.process_patterns, and holders of reclaim.ports.

A sweep kills the current worker, so it refuses to run while a supervisor
holds the lock unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, paths, err := root.load()
			if err != nil {
				return err
			}
			output := logging.NewOutputFormatter(cmd.OutOrStdout())

			if holder := lock.Holder(paths.LockFile); holder != nil && !force {
				return pserrors.NewValidationError(fmt.Sprintf(
					"supervisor PID %d is running; stop it first or pass --force", holder.PID))
			}

			reclaimer := reclaim.New(reclaim.Options{
				PIDDir:          paths.PIDDir,
				ProcessPatterns: cfg.Reclaim.ProcessPatterns,
				Ports:           cfg.Reclaim.Ports,
				GracePeriod:     cfg.Supervisor.GracePeriod,
				Logger:          logging.Discard(),
			})
			result := reclaimer.Sweep(cmd.Context())

			if result.Empty() {
				output.Success("nothing to reclaim")
			}
			for _, k := range result.Killed {
				msg := fmt.Sprintf("killed PID %d (%s: %s)", k.PID, k.Reason, k.Detail)
				if k.Forced {
					msg += " after SIGKILL"
				}
				output.Warning(msg)
			}
			for _, e := range result.Errors {
				output.Info(e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "sweep even while a supervisor is running")
	return cmd
}
