package supervisor

import (
	"fmt"
	"time"
)

// Exit codes reported for workers the supervisor terminated or could not start.
const (
	ExitRuntimeBudget    = 124
	ExitHeartbeatTimeout = 125
	ExitLaunchFailure    = 127
	ExitInterrupted      = 130
)

// Cause is why a phase run ended.
type Cause int

const (
	// Normal means the worker exited on its own.
	Normal Cause = iota
	// HeartbeatTimeout means the heartbeat went stale and the worker was terminated.
	HeartbeatTimeout
	// RuntimeBudgetExceeded means the absolute runtime cap fired.
	RuntimeBudgetExceeded
	// Interrupted means the operator aborted the run mid-phase.
	Interrupted
)

// String returns the cause name used in logs and events.
func (c Cause) String() string {
	switch c {
	case Normal:
		return "NORMAL"
	case HeartbeatTimeout:
		return "HEARTBEAT_TIMEOUT"
	case RuntimeBudgetExceeded:
		return "RUNTIME_BUDGET_EXCEEDED"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Forced reports whether the supervisor terminated the worker.
func (c Cause) Forced() bool {
	return c != Normal
}

// Result is the outcome of one phase run.
type Result struct {
	Phase     string
	Iteration int
	// ExitCode is nil when the worker was killed by a signal the supervisor
	// did not send.
	ExitCode *int
	Elapsed  time.Duration
	Cause    Cause
	LogPath  string
	// LogTail holds the last lines of the phase log when the run ended badly.
	LogTail []string
	// Escalated is true when the grace period expired and SIGKILL was sent.
	Escalated bool
	// LaunchErr is set when the command could not be started.
	LaunchErr error
}

// Succeeded reports a normal exit with status 0.
func (r Result) Succeeded() bool {
	return r.Cause == Normal && r.ExitCode != nil && *r.ExitCode == 0
}

// ExitCodeString renders the exit code for logs.
func (r Result) ExitCodeString() string {
	if r.ExitCode == nil {
		return "signal"
	}
	return fmt.Sprintf("%d", *r.ExitCode)
}

func intPtr(v int) *int {
	return &v
}
