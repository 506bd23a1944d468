// Package breaker tracks whether the pipeline keeps producing workspace
// changes and halts it after sustained iterations without any.
package breaker

import (
	"fmt"
	"strings"
)

// State is the circuit breaker state.
type State int

const (
	// Closed is normal operation.
	Closed State = iota
	// HalfOpen warns that progress has stalled.
	HalfOpen
	// Open halts the run.
	Open
)

// String returns the persisted state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case HalfOpen:
		return "HALF_OPEN"
	case Open:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "CLOSED":
		*s = Closed
	case "HALF_OPEN":
		*s = HalfOpen
	case "OPEN":
		*s = Open
	default:
		return fmt.Errorf("unknown breaker state: %q", text)
	}
	return nil
}

const (
	DefaultWarningThreshold = 3
	DefaultStopThreshold    = 5
)

// Snapshot is the persisted breaker state.
type Snapshot struct {
	State                 State `json:"state"`
	NoProgressCount       int   `json:"no_progress_count"`
	LastProgressIteration int   `json:"last_progress_iteration"`
}

// Breaker is the progress state machine. It is owned by the supervisor's
// control flow and is not safe for concurrent use.
type Breaker struct {
	warning int
	stop    int
	snap    Snapshot
}

// New creates a CLOSED breaker. Non-positive thresholds fall back to the
// defaults; stop is raised above warning if needed.
func New(warning, stop int) *Breaker {
	if warning <= 0 {
		warning = DefaultWarningThreshold
	}
	if stop <= 0 {
		stop = DefaultStopThreshold
	}
	if stop <= warning {
		stop = warning + 1
	}
	return &Breaker{warning: warning, stop: stop}
}

// Restore replaces the current state with a loaded snapshot.
func (b *Breaker) Restore(s Snapshot) {
	b.snap = s
}

// Record applies one iteration's progress signal. Progress is a full reset;
// otherwise the no-progress count grows and the state follows the thresholds.
func (b *Breaker) Record(iteration int, progress bool) Snapshot {
	if progress {
		b.snap = Snapshot{State: Closed, NoProgressCount: 0, LastProgressIteration: iteration}
		return b.snap
	}

	b.snap.NoProgressCount++
	b.snap.State = b.stateFor(b.snap.NoProgressCount)
	return b.snap
}

func (b *Breaker) stateFor(count int) State {
	switch {
	case count >= b.stop:
		return Open
	case count >= b.warning:
		return HalfOpen
	default:
		return Closed
	}
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	return b.snap
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.snap.State
}

// IsOpen reports whether the run must halt.
func (b *Breaker) IsOpen() bool {
	return b.snap.State == Open
}

// Reset returns the breaker to {CLOSED, 0, 0}.
func (b *Breaker) Reset() {
	b.snap = Snapshot{}
}

// HaltReport describes why the breaker opened.
func (b *Breaker) HaltReport() string {
	last := "never during this run"
	if b.snap.LastProgressIteration > 0 {
		last = fmt.Sprintf("iteration %d", b.snap.LastProgressIteration)
	}
	return fmt.Sprintf("circuit breaker %s: %d consecutive iterations without progress (threshold %d); last progress: %s",
		b.snap.State, b.snap.NoProgressCount, b.stop, last)
}
