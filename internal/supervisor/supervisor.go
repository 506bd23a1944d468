// Package supervisor runs one phase's worker process, watches its heartbeat
// and runtime budget, and terminates it with escalation when either fires.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/silver2dream/pipesup/internal/heartbeat"
	"github.com/silver2dream/pipesup/internal/reclaim"
)

// Environment exported to every worker.
const (
	EnvPhase         = "PIPESUP_PHASE"
	EnvHeartbeatFile = "PIPESUP_HEARTBEAT_FILE"
	EnvIteration     = "PIPESUP_ITERATION"
)

var (
	errProcessExited  = errors.New("worker exited")
	errHeartbeatStale = errors.New("heartbeat stale")
	errRuntimeBudget  = errors.New("runtime budget exceeded")
)

// Sweeper reclaims resources a terminated worker left behind.
type Sweeper interface {
	Sweep(ctx context.Context) reclaim.SweepResult
}

// Options configures a Supervisor.
type Options struct {
	WorkDir       string
	LogDir        string
	PIDDir        string
	Monitor       *heartbeat.Monitor
	PollInterval  time.Duration
	MaxStaleness  time.Duration
	RuntimeBudget time.Duration
	GracePeriod   time.Duration
	TailLines     int
	PTY           bool
	Env           []string
	Sweeper       Sweeper
	Logger        *slog.Logger
	// OnBeat is called for each heartbeat the worker writes.
	OnBeat func(heartbeat.Record)
}

// Supervisor owns at most one worker at a time.
type Supervisor struct {
	opts Options
	now  func() time.Time
}

// New creates a Supervisor. Zero durations take the package defaults.
func New(opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	if opts.MaxStaleness <= 0 {
		opts.MaxStaleness = 15 * time.Minute
	}
	if opts.RuntimeBudget <= 0 {
		opts.RuntimeBudget = 45 * time.Minute
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{opts: opts, now: time.Now}
}

// Run executes command for phase and blocks until it ends. It never returns
// an error: every failure is described by the Result.
func (s *Supervisor) Run(ctx context.Context, phase, command string, iteration int) Result {
	started := s.now()
	logger := s.opts.Logger.With("phase", phase, "iteration", iteration)
	result := Result{Phase: phase, Iteration: iteration, Cause: Normal}

	if s.opts.Monitor != nil {
		if err := s.opts.Monitor.Store().Clear(); err != nil {
			logger.Warn("failed to clear heartbeat", "error", err)
		}
	}

	logFile, err := s.openLog(phase, started)
	if err != nil {
		return s.launchFailed(logger, result, started, err)
	}
	defer logFile.Close()
	result.LogPath = logFile.Name()
	fmt.Fprintf(logFile, "# pipesup phase=%s iteration=%d started=%s\n# command: %s\n",
		phase, iteration, started.Format(time.RFC3339), command)

	cmd := shellCommand(command)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	cmd.Env = append(cmd.Env,
		EnvPhase+"="+phase,
		EnvIteration+"="+strconv.Itoa(iteration))
	if s.opts.Monitor != nil {
		cmd.Env = append(cmd.Env, EnvHeartbeatFile+"="+s.opts.Monitor.Store().Path())
	}

	proc, err := start(cmd, logFile, s.opts.PTY)
	if err != nil {
		fmt.Fprintf(logFile, "# launch failed: %v\n", err)
		return s.launchFailed(logger, result, started, err)
	}
	if proc.fallback {
		logger.Warn("pty unavailable, using standard execution")
	}
	logger.Info("worker started", "pid", proc.pid, "log", result.LogPath)

	if s.opts.PIDDir != "" {
		info := &reclaim.PIDFile{
			PID:        proc.pid,
			PGID:       proc.pgid,
			Phase:      phase,
			Iteration:  iteration,
			Command:    command,
			Supervisor: os.Getpid(),
			StartedAt:  started,
		}
		if err := reclaim.WritePIDFile(s.opts.PIDDir, info); err != nil {
			logger.Warn("failed to write PID file", "error", err)
		}
	}

	cause, escalated, waitErr := s.race(ctx, proc, logger)
	result.Cause = cause
	result.Escalated = escalated
	result.Elapsed = s.now().Sub(started)

	if s.opts.PIDDir != "" {
		if err := reclaim.RemovePIDFile(s.opts.PIDDir); err != nil {
			logger.Warn("failed to remove PID file", "error", err)
		}
	}

	switch cause {
	case HeartbeatTimeout:
		result.ExitCode = intPtr(ExitHeartbeatTimeout)
	case RuntimeBudgetExceeded:
		result.ExitCode = intPtr(ExitRuntimeBudget)
	case Interrupted:
		result.ExitCode = intPtr(ExitInterrupted)
	default:
		result.ExitCode = proc.exitCode(waitErr)
	}

	if cause.Forced() {
		result.LogTail = TailLog(result.LogPath, s.opts.TailLines)
		logger.Warn("worker terminated",
			"cause", cause,
			"elapsed", result.Elapsed.Round(time.Millisecond),
			"escalated", escalated,
			"log_tail", result.LogTail)
		s.sweep(ctx, logger)
		return result
	}

	// Background processes the worker left in its group must not outlive it.
	if reclaim.GroupAlive(proc.pgid) {
		logger.Warn("resource leak detected", "reason", "worker_group", "pgid", proc.pgid)
		if err := reclaim.KillGroup(proc.pgid); err != nil {
			logger.Warn("failed to kill leftover group", "pgid", proc.pgid, "error", err)
		}
	}

	if !result.Succeeded() {
		result.LogTail = TailLog(result.LogPath, s.opts.TailLines)
		logger.Warn("worker exited with error",
			"exit_code", result.ExitCodeString(),
			"elapsed", result.Elapsed.Round(time.Millisecond),
			"log_tail", result.LogTail)
	} else {
		logger.Info("worker finished", "elapsed", result.Elapsed.Round(time.Millisecond))
	}
	return result
}

// race runs the two cooperating tasks, process wait and heartbeat poll, under
// the runtime budget, and terminates the worker if it is not the one that
// finished first.
func (s *Supervisor) race(ctx context.Context, proc *process, logger *slog.Logger) (Cause, bool, error) {
	budgetCtx, cancel := context.WithTimeoutCause(ctx, s.opts.RuntimeBudget, errRuntimeBudget)
	defer cancel()

	g, gctx := errgroup.WithContext(budgetCtx)

	var waitErr error
	g.Go(func() error {
		waitErr = proc.wait()
		return errProcessExited
	})

	g.Go(func() error {
		if s.opts.Monitor == nil {
			<-gctx.Done()
			return nil
		}
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if !s.opts.Monitor.IsFresh(s.opts.MaxStaleness) {
					return errHeartbeatStale
				}
			}
		}
	})

	if s.opts.Monitor != nil && s.opts.OnBeat != nil {
		if beats, err := s.opts.Monitor.Watch(gctx); err == nil {
			go func() {
				for rec := range beats {
					s.opts.OnBeat(rec)
				}
			}()
		} else {
			logger.Debug("heartbeat watch unavailable", "error", err)
		}
	}

	<-gctx.Done()
	reason := context.Cause(gctx)

	cause := Normal
	switch {
	case errors.Is(reason, errProcessExited):
	case errors.Is(reason, errHeartbeatStale):
		cause = HeartbeatTimeout
	case errors.Is(reason, errRuntimeBudget):
		cause = RuntimeBudgetExceeded
	default:
		cause = Interrupted
	}

	escalated := false
	if cause != Normal {
		logger.Warn("terminating worker", "cause", cause, "grace_period", s.opts.GracePeriod)
		forced, err := reclaim.Terminate(proc.pgid, true, s.opts.GracePeriod)
		if err != nil {
			logger.Warn("terminate failed", "pgid", proc.pgid, "error", err)
		}
		escalated = forced
	}

	_ = g.Wait()
	return cause, escalated, waitErr
}

func (s *Supervisor) sweep(ctx context.Context, logger *slog.Logger) {
	if s.opts.Sweeper == nil {
		return
	}
	// The sweep runs even when the run itself was aborted.
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	res := s.opts.Sweeper.Sweep(sweepCtx)
	if !res.Empty() {
		logger.Warn("post-termination sweep reclaimed processes", "count", len(res.Killed))
	}
}

func (s *Supervisor) openLog(phase string, at time.Time) (*os.File, error) {
	if err := os.MkdirAll(s.opts.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.log", phase, at.Format("20060102-150405.000"))
	return os.OpenFile(filepath.Join(s.opts.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (s *Supervisor) launchFailed(logger *slog.Logger, result Result, started time.Time, err error) Result {
	result.ExitCode = intPtr(ExitLaunchFailure)
	result.LaunchErr = err
	result.Elapsed = s.now().Sub(started)
	logger.Error("worker exited with error", "exit_code", ExitLaunchFailure, "error", err)
	return result
}

// exitCodeOf maps a finished command to its exit code; nil means it was killed
// by a signal.
func exitCodeOf(cmd *exec.Cmd, waitErr error) *int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return intPtr(code)
		}
		return nil
	}
	if waitErr != nil {
		return intPtr(1)
	}
	return intPtr(0)
}
