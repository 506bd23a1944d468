package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/control"
	"github.com/silver2dream/pipesup/internal/heartbeat"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/logging"
	"github.com/silver2dream/pipesup/internal/reclaim"
	"github.com/silver2dream/pipesup/internal/trace"
)

// statusReport is the on-disk view of a workspace's supervisor state.
type statusReport struct {
	Root      string           `json:"root"`
	Running   bool             `json:"running"`
	Holder    *lock.Info       `json:"holder,omitempty"`
	Control   *control.Flag    `json:"control,omitempty"`
	Breaker   breaker.Snapshot `json:"breaker"`
	Halt      string           `json:"halt,omitempty"`
	Heartbeat *heartbeatStatus `json:"heartbeat,omitempty"`
	Worker    *reclaim.PIDFile `json:"worker,omitempty"`
	LastRun   string           `json:"last_run,omitempty"`
	Recent    []trace.Event    `json:"recent_events,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
}

type heartbeatStatus struct {
	Agent string `json:"agent"`
	Age   string `json:"age"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON bool
		last   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor, breaker, worker and recent event state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootDir, err := root.workspaceRoot()
			if err != nil {
				return err
			}
			// An unloadable config still leaves the on-disk state readable.
			thresholds := config.Default().Breaker
			if cfg, _, err := root.load(); err == nil {
				thresholds = cfg.Breaker
			}
			report := collectStatus(config.NewPaths(rootDir), thresholds, last)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().IntVar(&last, "events", 5, "number of recent events to show")
	return cmd
}

func collectStatus(paths config.Paths, thresholds config.BreakerConfig, last int) statusReport {
	report := statusReport{Root: paths.Root}

	report.Holder = lock.Holder(paths.LockFile)
	report.Running = report.Holder != nil

	flag, err := control.NewStore(paths.ControlFile).Read()
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Control = flag

	snap, err := breaker.NewStore(paths.BreakerFile).Load()
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Breaker = snap

	b := breaker.New(thresholds.WarningThreshold, thresholds.StopThreshold)
	b.Restore(snap)
	if b.IsOpen() {
		report.Halt = b.HaltReport()
	}

	monitor := heartbeat.NewMonitor(heartbeat.NewStore(paths.HeartbeatFile), logging.Discard())
	if age, rec, ok := monitor.Age(); ok {
		report.Heartbeat = &heartbeatStatus{Agent: rec.AgentName, Age: age.Round(time.Second).String()}
	}

	worker, err := reclaim.ReadPIDFile(paths.PIDDir)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Worker = worker

	reader := trace.NewEventReader(paths.EventsDir)
	runID, err := reader.LatestRun()
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	if runID != "" && last > 0 {
		report.LastRun = runID
		events, err := reader.ReadRunFiltered(runID, trace.EventFilter{Last: last})
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
		report.Recent = events
	}
	return report
}

func printStatus(w io.Writer, r statusReport) {
	out := logging.NewOutputFormatter(w)

	fmt.Fprintf(w, "%s %s\n\n", out.Bold("Workspace:"), r.Root)

	if r.Holder != nil {
		out.Success(fmt.Sprintf("supervisor running (PID %d, run %s, since %s)",
			r.Holder.PID, r.Holder.RunID, r.Holder.StartTime.Format(time.RFC3339)))
	} else {
		out.Info("supervisor not running")
	}

	switch {
	case r.Control == nil:
		fmt.Fprintf(w, "  control:   %s\n", "unset")
	case r.Control.Running:
		fmt.Fprintf(w, "  control:   running (%s)\n", r.Control.Reason)
	default:
		fmt.Fprintf(w, "  control:   stop requested (%s)\n", r.Control.Reason)
	}

	fmt.Fprintf(w, "  breaker:   %s, %d iterations without progress, last progress at %d\n",
		r.Breaker.State, r.Breaker.NoProgressCount, r.Breaker.LastProgressIteration)
	if r.Halt != "" {
		out.Error(r.Halt)
	}

	if r.Heartbeat != nil {
		fmt.Fprintf(w, "  heartbeat: %s, %s ago\n", r.Heartbeat.Agent, r.Heartbeat.Age)
	}
	if r.Worker != nil {
		fmt.Fprintf(w, "  worker:    %s iteration %d (PID %d, started %s)\n",
			r.Worker.Phase, r.Worker.Iteration, r.Worker.PID, r.Worker.StartedAt.Format(time.RFC3339))
	}

	if r.LastRun != "" {
		fmt.Fprintf(w, "\n%s %s\n", out.Bold("Recent events:"), out.Cyan(r.LastRun))
		for _, e := range r.Recent {
			line := fmt.Sprintf("  #%d %s %-9s %s", e.Seq, e.Timestamp.Format("15:04:05"), e.Component, e.Type)
			if e.Iteration > 0 {
				line += fmt.Sprintf(" iter=%d", e.Iteration)
			}
			if e.Phase != "" {
				line += " phase=" + e.Phase
			}
			if e.Error != "" {
				line += " error=" + e.Error
			}
			fmt.Fprintln(w, line)
		}
	}

	for _, e := range r.Errors {
		out.Warning(e)
	}
}
