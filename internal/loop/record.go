package loop

import (
	"fmt"
	"strings"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/phase"
	"github.com/silver2dream/pipesup/internal/supervisor"
	"github.com/silver2dream/pipesup/internal/trace"
)

func (l *Loop) recordDecision(d phase.Decision) {
	names := make([]string, len(d.Phases))
	for i, id := range d.Phases {
		names[i] = id.String()
	}
	reasons := make(map[string]any, len(d.Reasons))
	for id, r := range d.Reasons {
		reasons[id.String()] = r
	}
	reasons["pending_verification"] = d.Counts.PendingVerification
	reasons["open"] = d.Counts.Open

	l.opts.Events.WriteDecision(trace.ComponentScheduler, trace.TypeSchedule, trace.Decision{
		Rule:       "implementer always; verifier if pending > 0; strategist if open == 0 or checkpoint",
		Conditions: reasons,
		Result:     strings.Join(names, ","),
	}, trace.WithIteration(d.Iteration))
}

// recordPhase reports a finished phase to metrics, the event stream and the
// console.
func (l *Loop) recordPhase(r supervisor.Result) {
	l.opts.Metrics.ObservePhase(r.Phase, r.Cause.String(), r.Succeeded(), r.Elapsed)
	if l.opts.Output != nil {
		l.opts.Output.PhaseResult(r.Phase, r.Cause.String(), r.ExitCode, r.Elapsed)
	}

	data := map[string]any{
		"cause":     r.Cause.String(),
		"exit_code": r.ExitCode,
		"elapsed":   r.Elapsed.Seconds(),
		"log":       r.LogPath,
	}
	if r.Escalated {
		data["escalated"] = true
	}
	opts := []trace.EventOption{trace.WithIteration(r.Iteration), trace.WithPhase(r.Phase), trace.WithData(data)}

	level := trace.LevelInfo
	if !r.Succeeded() {
		level = trace.LevelWarn
	}
	l.opts.Events.Write(trace.ComponentSupervisor, trace.TypePhaseEnd, level, opts...)

	switch {
	case r.Cause == supervisor.HeartbeatTimeout:
		l.opts.Events.Write(trace.ComponentSupervisor, trace.TypeStuckWorker, trace.LevelWarn,
			append(opts, trace.WithErrorString(tail(r)))...)
	case r.Cause == supervisor.RuntimeBudgetExceeded:
		l.opts.Events.Write(trace.ComponentSupervisor, trace.TypeRuntimeBudgetExceeded, trace.LevelWarn,
			append(opts, trace.WithErrorString(tail(r)))...)
	case r.Cause == supervisor.Normal && !r.Succeeded():
		msg := fmt.Sprintf("exit %s", r.ExitCodeString())
		if r.LaunchErr != nil {
			msg = r.LaunchErr.Error()
		}
		l.opts.Events.Write(trace.ComponentSupervisor, trace.TypeWorkerExitedWithError, trace.LevelError,
			append(opts, trace.WithErrorString(msg))...)
	}
}

func (l *Loop) recordBreaker(iteration int, prev breaker.State, snap breaker.Snapshot) {
	if snap.State == prev {
		return
	}
	l.opts.Events.WriteDecision(trace.ComponentBreaker, trace.TypeBreakerTransition, trace.Decision{
		Rule: "CLOSED below warning; HALF_OPEN from warning; OPEN from stop; progress resets",
		Conditions: map[string]any{
			"no_progress_count":       snap.NoProgressCount,
			"last_progress_iteration": snap.LastProgressIteration,
			"from":                    prev.String(),
		},
		Result: snap.State.String(),
	}, trace.WithIteration(iteration))

	switch snap.State {
	case breaker.HalfOpen:
		l.logger.Warn("circuit breaker half-open", "iteration", iteration, "no_progress_count", snap.NoProgressCount)
		if l.opts.Output != nil {
			l.opts.Output.Warning(fmt.Sprintf("No progress for %d iterations", snap.NoProgressCount))
		}
	case breaker.Closed:
		l.logger.Info("circuit breaker closed", "iteration", iteration)
	}
}

// tail joins the last log lines for an event message.
func tail(r supervisor.Result) string {
	lines := r.LogTail
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}
