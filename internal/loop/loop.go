// Package loop drives pipeline iterations: sweep, schedule, run each phase,
// publish, evaluate the circuit breaker, back off.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/control"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/logging"
	"github.com/silver2dream/pipesup/internal/metrics"
	"github.com/silver2dream/pipesup/internal/phase"
	"github.com/silver2dream/pipesup/internal/supervisor"
	"github.com/silver2dream/pipesup/internal/trace"
	"github.com/silver2dream/pipesup/internal/workspace"
)

// Runner runs one phase's worker to completion.
type Runner interface {
	Run(ctx context.Context, phase, command string, iteration int) supervisor.Result
}

// Workspace is the progress signal and the sync point. Equal snapshots mean
// nothing changed in between.
type Workspace interface {
	Snapshot(ctx context.Context) (string, error)
	DiffSummary(ctx context.Context) (workspace.Summary, error)
	Publish(ctx context.Context, message string) (workspace.PublishResult, error)
}

// Scheduler decides which phases an iteration runs.
type Scheduler interface {
	Schedule(ctx context.Context, iteration int) phase.Decision
}

// Options wires a Loop. Metrics, Events and Output may be nil.
type Options struct {
	RunID         string
	Backoff       time.Duration
	MaxIterations int // 0 = unlimited
	CommitMessage string
	Commands      config.PhasesConfig
	Breaker       *breaker.Breaker

	Runner       Runner
	Workspace    Workspace
	Scheduler    Scheduler
	Sweeper      supervisor.Sweeper
	Control      *control.Store
	BreakerStore *breaker.Store

	// Abort, when done, terminates the in-flight phase. Without it phases
	// always run to completion.
	Abort context.Context

	Metrics *metrics.Recorder
	Events  *trace.EventWriter
	Output  *logging.OutputFormatter
	Logger  *slog.Logger
}

// Loop is the top-level driver. Run may be called once.
type Loop struct {
	opts    Options
	breaker *breaker.Breaker
	logger  *slog.Logger

	mu     sync.Mutex
	status Status
}

// New creates a Loop.
func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := opts.Breaker
	if b == nil {
		b = breaker.New(breaker.DefaultWarningThreshold, breaker.DefaultStopThreshold)
	}
	return &Loop{
		opts:    opts,
		breaker: b,
		logger:  opts.Logger,
		status:  Status{RunID: opts.RunID, State: StateIdle},
	}
}

// Run iterates until the control flag is cleared, ctx is cancelled, the
// iteration limit is reached, or the circuit breaker opens. Only the last
// returns an error. Cancelling ctx lets the in-flight phase finish.
func (l *Loop) Run(ctx context.Context) (err error) {
	phaseCtx := l.opts.Abort
	if phaseCtx == nil {
		phaseCtx = context.WithoutCancel(ctx)
	}

	// Stale breaker state from a previous run must not carry over.
	l.breaker.Reset()
	if l.opts.BreakerStore != nil {
		if err := l.opts.BreakerStore.Reset(); err != nil {
			l.logger.Warn("failed to reset circuit breaker store", "error", err)
		}
	}
	if err := l.opts.Control.Set(true, "run started"); err != nil {
		return pserrors.NewGeneralErrorWithCause("failed to write control flag", err)
	}

	l.update(func(s *Status) {
		s.State = StateRunning
		s.StartedAt = time.Now().UTC()
		s.Breaker = l.breaker.Snapshot()
	})
	l.opts.Events.Write(trace.ComponentLoop, trace.TypeRunStart, trace.LevelInfo,
		trace.WithData(map[string]any{"run_id": l.opts.RunID, "max_iterations": l.opts.MaxIterations}))
	l.logger.Info("pipeline started", "run_id", l.opts.RunID)

	reason := ""
	defer func() {
		l.finish(ctx, reason, err)
	}()

	for iteration := 1; ; iteration++ {
		if reason = l.stopReason(ctx); reason != "" {
			return nil
		}

		if err := l.iterate(ctx, phaseCtx, iteration); err != nil {
			reason = "no sustained progress"
			return err
		}

		if l.opts.MaxIterations > 0 && iteration >= l.opts.MaxIterations {
			reason = fmt.Sprintf("iteration limit %d reached", l.opts.MaxIterations)
			return nil
		}
		if reason = l.stopReason(ctx); reason != "" {
			return nil
		}
		l.backoff(ctx)
	}
}

// stopReason is non-empty when the loop must not start another iteration.
func (l *Loop) stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("stop requested (%v)", context.Cause(ctx))
	}
	if !l.opts.Control.IsRunning() {
		return "control flag cleared"
	}
	return ""
}

// iterate runs one iteration. It returns an error only when the breaker opens.
func (l *Loop) iterate(ctx, phaseCtx context.Context, iteration int) error {
	logger := l.logger.With("iteration", iteration)
	l.update(func(s *Status) { s.Iteration = iteration })
	l.opts.Events.Write(trace.ComponentLoop, trace.TypeIterationStart, trace.LevelInfo, trace.WithIteration(iteration))

	// Sync and sweep still run after an abort.
	syncCtx := context.WithoutCancel(phaseCtx)

	l.sweep(syncCtx, logger, "pre-flight")

	decision := l.opts.Scheduler.Schedule(phaseCtx, iteration)
	l.recordDecision(decision)

	names := make([]string, len(decision.Phases))
	for i, id := range decision.Phases {
		names[i] = id.String()
	}
	if l.opts.Output != nil {
		l.opts.Output.IterationStart(iteration, names)
	}
	logger.Info("iteration started", "phases", names,
		"pending_verification", decision.Counts.PendingVerification, "open", decision.Counts.Open)

	progress := false
	for _, id := range decision.Phases {
		if phaseCtx.Err() != nil {
			logger.Warn("skipping remaining phases after abort", "phase", id)
			break
		}

		baseline, baseErr := l.opts.Workspace.Snapshot(syncCtx)
		if baseErr != nil {
			logger.Warn("failed to snapshot workspace", "phase", id, "error", baseErr)
		}

		l.update(func(s *Status) { s.CurrentPhase = id.String() })
		result := l.opts.Runner.Run(phaseCtx, id.String(), l.opts.Commands.Command(id.String()), iteration)
		l.update(func(s *Status) {
			s.CurrentPhase = ""
			s.LastPhase = newPhaseStatus(result)
		})
		l.recordPhase(result)

		// The supervisor already swept after a forced termination.
		if !result.Cause.Forced() {
			l.sweep(syncCtx, logger, "post-phase")
		}

		changed := baseErr == nil && l.sample(syncCtx, logger, id, baseline)
		if changed {
			progress = true
		}
		l.publish(syncCtx, logger, id, iteration, l.summarize(syncCtx, logger, id, changed))
	}

	prev := l.breaker.State()
	snap := l.breaker.Record(iteration, progress)
	if l.opts.BreakerStore != nil {
		if err := l.opts.BreakerStore.Save(snap); err != nil {
			logger.Warn("failed to save circuit breaker state", "error", err)
		}
	}
	l.update(func(s *Status) { s.Breaker = snap })
	l.opts.Metrics.ObserveIteration(progress, int(snap.State), snap.NoProgressCount)
	l.recordBreaker(iteration, prev, snap)
	l.opts.Events.Write(trace.ComponentLoop, trace.TypeIterationEnd, trace.LevelInfo,
		trace.WithIteration(iteration),
		trace.WithData(map[string]any{"progress": progress, "breaker": snap}))

	logger.Info("iteration finished",
		"progress", progress,
		"breaker", snap.State,
		"no_progress_count", snap.NoProgressCount)

	if !l.breaker.IsOpen() {
		return nil
	}

	logger.Error("no sustained progress", "report", l.breaker.HaltReport())
	if l.opts.Output != nil {
		l.opts.Output.HaltReport(snap.NoProgressCount, snap.LastProgressIteration)
	}
	l.opts.Events.Write(trace.ComponentBreaker, trace.TypeNoSustainedProgress, trace.LevelError,
		trace.WithIteration(iteration),
		trace.WithData(snap))
	return pserrors.NewNoProgressError(snap.NoProgressCount, snap.LastProgressIteration)
}

// sample reports whether the phase changed the workspace since baseline.
// Changes that were already there, published or not, are not progress. An
// unreadable workspace counts as no progress.
func (l *Loop) sample(ctx context.Context, logger *slog.Logger, id phase.ID, baseline string) bool {
	after, err := l.opts.Workspace.Snapshot(ctx)
	if err != nil {
		logger.Warn("failed to sample workspace changes", "phase", id, "error", err)
		return false
	}
	changed := after != baseline
	logger.Debug("workspace sampled", "phase", id, "changed", changed)
	return changed
}

// summarize describes what is about to be published. It runs only after a
// phase changed something.
func (l *Loop) summarize(ctx context.Context, logger *slog.Logger, id phase.ID, changed bool) *workspace.Summary {
	if !changed {
		return nil
	}
	summary, err := l.opts.Workspace.DiffSummary(ctx)
	if err != nil {
		logger.Debug("diff summary unavailable", "phase", id, "error", err)
		return nil
	}
	logger.Info("phase changed workspace", "phase", id,
		"files", summary.FilesChanged,
		"lines_added", summary.LinesAdded,
		"lines_removed", summary.LinesRemoved)
	return &summary
}

func (l *Loop) publish(ctx context.Context, logger *slog.Logger, id phase.ID, iteration int, summary *workspace.Summary) {
	msg := workspace.RenderCommitMessage(l.opts.CommitMessage, id.String(), iteration)
	res, err := l.opts.Workspace.Publish(ctx, msg)

	outcome := "skipped"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Pushed:
		outcome = "pushed"
	case res.Committed:
		outcome = "committed"
	}
	l.opts.Metrics.ObservePublish(outcome)

	if err != nil {
		logger.Warn("publish failed", "phase", id, "committed", res.Committed, "error", err)
		l.opts.Events.Write(trace.ComponentSync, trace.TypePublishFail, trace.LevelError,
			trace.WithIteration(iteration), trace.WithPhase(id.String()), trace.WithError(err))
		return
	}
	if res.Committed {
		data := map[string]any{"commit": res.Commit, "pushed": res.Pushed}
		attrs := []any{"phase", id, "commit", res.Commit, "pushed", res.Pushed}
		if summary != nil {
			data["summary"] = summary
			attrs = append(attrs, "files", summary.FilesChanged,
				"lines_added", summary.LinesAdded, "lines_removed", summary.LinesRemoved)
		}
		logger.Info("workspace published", attrs...)
		l.opts.Events.Write(trace.ComponentSync, trace.TypePublish, trace.LevelInfo,
			trace.WithIteration(iteration), trace.WithPhase(id.String()),
			trace.WithData(data))
	}
}

func (l *Loop) sweep(ctx context.Context, logger *slog.Logger, stage string) {
	if l.opts.Sweeper == nil {
		return
	}
	res := l.opts.Sweeper.Sweep(ctx)
	if !res.Empty() {
		logger.Warn("sweep reclaimed processes", "stage", stage, "count", len(res.Killed))
	}
	for _, e := range res.Errors {
		logger.Debug("sweep error", "stage", stage, "error", e)
	}
}

// backoff sleeps between iterations. A stop request or any control flag
// change cuts it short.
func (l *Loop) backoff(ctx context.Context) {
	if l.opts.Backoff <= 0 {
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake, err := l.opts.Control.Watch(watchCtx, l.logger)
	if err != nil {
		l.logger.Debug("control watch unavailable", "error", err)
	}

	timer := time.NewTimer(l.opts.Backoff)
	defer timer.Stop()

	l.logger.Debug("backing off", "duration", l.opts.Backoff)
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

func (l *Loop) finish(ctx context.Context, reason string, err error) {
	logger := l.logger
	l.sweep(context.WithoutCancel(ctx), logger, "final")

	state := StateStopped
	if err != nil {
		state = StateHalted
	}
	l.update(func(s *Status) {
		s.State = state
		s.CurrentPhase = ""
	})

	if setErr := l.opts.Control.Set(false, "run ended: "+reason); setErr != nil {
		logger.Warn("failed to clear control flag", "error", setErr)
	}

	level := trace.LevelInfo
	if err != nil {
		level = trace.LevelError
	}
	l.opts.Events.Write(trace.ComponentLoop, trace.TypeRunEnd, level,
		trace.WithData(map[string]any{"reason": reason}), trace.WithError(err))
	logger.Info("pipeline stopped", "reason", reason)
	if l.opts.Output != nil && err == nil {
		l.opts.Output.Info("Pipeline stopped: " + reason)
	}
}

func (l *Loop) update(fn func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.status)
}

// Status returns a copy of the loop's current status. It is safe to call
// from any goroutine.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.status
	if s.LastPhase != nil {
		p := *s.LastPhase
		s.LastPhase = &p
	}
	return s
}
