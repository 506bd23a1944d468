package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/control"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/logging"
)

func newStopCmd(root *rootOptions) *cobra.Command {
	var (
		reason string
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running supervisor to stop after the in-flight phase",
		Long: `Clear the control flag. The running loop finishes the in-flight phase and
exits before starting another iteration. When the control endpoint is enabled
the request is also sent over HTTP, which cuts a backoff short.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, paths, err := root.load()
			if err != nil {
				return err
			}
			output := logging.NewOutputFormatter(cmd.OutOrStdout())

			if err := control.NewStore(paths.ControlFile).Set(false, reason); err != nil {
				return pserrors.NewGeneralErrorWithCause("failed to write control flag", err)
			}
			output.Success("control flag cleared")

			if addr == "" {
				addr = cfg.Control.Listen
			}
			if addr != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if err := control.RemoteStop(ctx, addr, reason); err != nil {
					output.Warning(fmt.Sprintf("remote stop failed: %v", err))
				} else {
					output.Success(fmt.Sprintf("stop sent to %s", addr))
				}
			}

			if holder := lock.Holder(paths.LockFile); holder != nil {
				output.Info(fmt.Sprintf("supervisor PID %d (run %s) will stop after its current phase", holder.PID, holder.RunID))
			} else {
				output.Info("no supervisor is running")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator request", "reason recorded in the control flag")
	cmd.Flags().StringVar(&addr, "addr", "", "control endpoint address (default control.listen)")
	return cmd
}
