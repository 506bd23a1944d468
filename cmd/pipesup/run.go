package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/control"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/heartbeat"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/logging"
	"github.com/silver2dream/pipesup/internal/loop"
	"github.com/silver2dream/pipesup/internal/metrics"
	"github.com/silver2dream/pipesup/internal/phase"
	"github.com/silver2dream/pipesup/internal/queue"
	"github.com/silver2dream/pipesup/internal/reclaim"
	"github.com/silver2dream/pipesup/internal/supervisor"
	"github.com/silver2dream/pipesup/internal/trace"
	"github.com/silver2dream/pipesup/internal/workspace"
)

type runOptions struct {
	maxIterations int
	pty           bool
	listen        string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"start"},
		Short:   "Run the pipeline loop in the foreground",
		Long: `Run iterations until the control flag is cleared, the iteration limit is
reached, or the circuit breaker halts the pipeline.

The first SIGINT/SIGTERM stops after the in-flight phase. A second one
terminates the worker immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, root, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.maxIterations, "max-iterations", "n", -1, "stop after N iterations (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.pty, "pty", false, "run workers under a pseudo-terminal")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve the HTTP control endpoint on this address")
	return cmd
}

func runPipeline(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, paths, err := root.load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-iterations") {
		if opts.maxIterations < 0 {
			return pserrors.NewValidationError("--max-iterations must be >= 0")
		}
		cfg.Loop.MaxIterations = opts.maxIterations
	}
	if opts.pty {
		cfg.Supervisor.PTY = true
	}
	if opts.listen != "" {
		cfg.Control.Listen = opts.listen
	}

	if err := os.MkdirAll(paths.StateDir, 0755); err != nil {
		return pserrors.NewGeneralErrorWithCause("failed to create state directory", err)
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: root.verbose,
		LogDir:  paths.LogDir,
		Console: cmd.ErrOrStderr(),
		JSON:    root.jsonLogs,
	})
	if err != nil {
		return pserrors.NewGeneralErrorWithCause("failed to set up logging", err)
	}
	defer closeLog()

	output := logging.NewOutputFormatter(cmd.OutOrStdout())
	runID := trace.NewRunID(time.Now().UTC())

	lockMgr := lock.NewManager(paths.LockFile, runID)
	if err := lockMgr.Acquire(); err != nil {
		return pserrors.NewGeneralErrorWithCause("failed to acquire supervisor lock", err)
	}
	defer func() {
		if err := lockMgr.Release(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	events, err := trace.NewEventWriter(paths.EventsDir, runID)
	if err != nil {
		logger.Warn("event trace disabled", "error", err)
		events = nil
	}
	defer events.Close()

	rec := metrics.New()

	reclaimer := reclaim.New(reclaim.Options{
		PIDDir:          paths.PIDDir,
		ProcessPatterns: cfg.Reclaim.ProcessPatterns,
		Ports:           cfg.Reclaim.Ports,
		GracePeriod:     cfg.Supervisor.GracePeriod,
		Logger:          logger,
		OnKill: func(k reclaim.Kill) {
			rec.ObserveReclaim(k.Reason)
			events.Write(trace.ComponentReclaimer, trace.TypeResourceLeak, trace.LevelWarn,
				trace.WithData(k))
		},
	})

	monitor := heartbeat.NewMonitor(heartbeat.NewStore(paths.HeartbeatFile), logger)
	sup := supervisor.New(supervisor.Options{
		WorkDir:       paths.Root,
		LogDir:        paths.LogDir,
		PIDDir:        paths.PIDDir,
		Monitor:       monitor,
		PollInterval:  cfg.Heartbeat.PollInterval,
		MaxStaleness:  cfg.Heartbeat.MaxStaleness,
		RuntimeBudget: cfg.Supervisor.RuntimeBudget,
		GracePeriod:   cfg.Supervisor.GracePeriod,
		TailLines:     cfg.Supervisor.TailLines,
		PTY:           cfg.Supervisor.PTY,
		Env:           []string{"PIPESUP_RUN_ID=" + runID},
		Sweeper:       reclaimer,
		Logger:        logger,
		OnBeat: func(r heartbeat.Record) {
			rec.ObserveHeartbeat(r.AgentName)
		},
	})

	source, err := queue.New(cfg.Queue, paths.Root, logger)
	if err != nil {
		return pserrors.NewConfigErrorWithCause("failed to set up work queue", err)
	}
	scheduler := phase.NewScheduler(source, cfg.Scheduler.StrategistEvery, logger)
	ws := workspace.New(paths.Root, cfg.Sync, paths.Owned(), logger)

	flag := control.NewStore(paths.ControlFile)
	handler := control.NewHandler(cmd.Context(), flag, logger, output)
	release := handler.Listen()
	defer release()

	l := loop.New(loop.Options{
		RunID:         runID,
		Backoff:       cfg.Loop.Backoff,
		MaxIterations: cfg.Loop.MaxIterations,
		CommitMessage: cfg.Sync.CommitMessage,
		Commands:      cfg.Phases,
		Breaker:       breaker.New(cfg.Breaker.WarningThreshold, cfg.Breaker.StopThreshold),
		Runner:        sup,
		Workspace:     ws,
		Scheduler:     scheduler,
		Sweeper:       reclaimer,
		Control:       flag,
		BreakerStore:  breaker.NewStore(paths.BreakerFile),
		Abort:         handler.AbortContext(),
		Metrics:       rec,
		Events:        events,
		Output:        output,
		Logger:        logger,
	})

	if cfg.Control.Listen != "" {
		srv := control.NewServer(control.ServerOptions{
			Addr:    cfg.Control.Listen,
			Status:  func() any { return l.Status() },
			Stop:    handler.RequestStop,
			Metrics: rec.Handler(),
			Logger:  logger,
		})
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(cmd.Context()))
		defer stopServer()
		go func() {
			if err := srv.Serve(srvCtx); err != nil {
				logger.Error("control endpoint failed", "addr", cfg.Control.Listen, "error", err)
			}
		}()
		output.Info(fmt.Sprintf("control endpoint listening on %s", cfg.Control.Listen))
	}

	output.Info(fmt.Sprintf("run %s started in %s", output.Bold(runID), paths.Root))
	err = l.Run(handler.StopContext())
	if err == nil && errors.Is(context.Cause(handler.AbortContext()), control.ErrAborted) {
		return pserrors.NewInterruptedError(control.ErrAborted)
	}
	return err
}
