package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/logging"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and state directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootDir, err := root.workspaceRoot()
			if err != nil {
				return err
			}
			paths := config.NewPaths(rootDir)
			output := logging.NewOutputFormatter(cmd.OutOrStdout())

			if err := config.WriteDefault(paths.ConfigFile, force); err != nil {
				return pserrors.NewConfigErrorWithCause("failed to write config", err)
			}
			for _, dir := range []string{paths.StateDir, paths.PIDDir, paths.EventsDir, paths.LogDir} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return pserrors.NewGeneralErrorWithCause("failed to create "+dir, err)
				}
			}

			output.Success(fmt.Sprintf("wrote %s", paths.ConfigFile))
			output.Info("edit phases.*.command, then start the pipeline with: pipesup run")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}
