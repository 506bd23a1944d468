package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/heartbeat"
	"github.com/silver2dream/pipesup/internal/supervisor"
)

// newHeartbeatCmd lets shell-based workers beat without writing JSON by hand.
// Inside a supervised phase the file comes from the environment.
func newHeartbeatCmd(root *rootOptions) *cobra.Command {
	var (
		agent string
		file  string
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Write a heartbeat record for the running worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agent == "" {
				agent = os.Getenv(supervisor.EnvPhase)
			}
			if agent == "" {
				return pserrors.NewValidationError("--agent is required outside a supervised phase")
			}

			path := file
			if path == "" {
				path = os.Getenv(supervisor.EnvHeartbeatFile)
			}
			if path == "" {
				rootDir, err := root.workspaceRoot()
				if err != nil {
					return err
				}
				path = config.NewPaths(rootDir).HeartbeatFile
			}

			if err := heartbeat.Beat(path, agent); err != nil {
				return pserrors.NewGeneralErrorWithCause("failed to write heartbeat", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent name (default $"+supervisor.EnvPhase+")")
	cmd.Flags().StringVar(&file, "file", "", "heartbeat file (default $"+supervisor.EnvHeartbeatFile+")")
	return cmd
}
