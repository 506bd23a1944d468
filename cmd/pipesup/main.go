package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/buildinfo"
	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/logging"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	dir        string
	configFile string
	verbose    bool
	jsonLogs   bool
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logging.NewOutputFormatter(stderr).Error(err.Error())
		return pserrors.GetExitCode(err)
	}
	return pserrors.ExitSuccess
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pipesup",
		Short: "Agent pipeline supervisor",
		Long: `pipesup drives a fixed sequence of worker phases (implementer, verifier,
strategist) against a git workspace, terminating hung workers, reclaiming
leaked processes and ports, and halting when iterations stop producing change.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "workspace root")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default <dir>/.ai/config/supervisor.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "write console logs as JSON")

	root.AddCommand(
		newRunCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newSweepCmd(opts),
		newHeartbeatCmd(opts),
		newInitCmd(opts),
		newResetCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Version)
		},
	}
}

// workspaceRoot resolves --dir to an absolute path.
func (o *rootOptions) workspaceRoot() (string, error) {
	root, err := filepath.Abs(o.dir)
	if err != nil {
		return "", pserrors.NewConfigErrorWithCause("invalid workspace directory", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", pserrors.NewConfigError(fmt.Sprintf("workspace directory not found: %s", root))
	}
	return root, nil
}

// load resolves the workspace and reads and validates its configuration.
func (o *rootOptions) load() (*config.Config, config.Paths, error) {
	root, err := o.workspaceRoot()
	if err != nil {
		return nil, config.Paths{}, err
	}
	paths := config.NewPaths(root)

	var cfg *config.Config
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, paths, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msg := fmt.Sprintf("invalid configuration (%d errors)", len(errs))
		for _, e := range errs {
			msg += "\n  " + e.Error()
		}
		return nil, paths, pserrors.NewValidationError(msg)
	}
	return cfg, paths, nil
}
