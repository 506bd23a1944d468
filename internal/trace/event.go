// Package trace records the supervisor's run as a JSONL event stream.
package trace

import (
	"time"
)

// Component is the source of an event.
const (
	ComponentLoop       = "loop"
	ComponentScheduler  = "scheduler"
	ComponentSupervisor = "supervisor"
	ComponentBreaker    = "breaker"
	ComponentReclaimer  = "reclaimer"
	ComponentSync       = "sync"
	ComponentControl    = "control"
)

// Level is the severity or kind of an event.
const (
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelError    = "error"
	LevelDecision = "decision"
)

// Event types.
const (
	// Loop events
	TypeRunStart       = "run_start"
	TypeRunEnd         = "run_end"
	TypeIterationStart = "iteration_start"
	TypeIterationEnd   = "iteration_end"
	TypeStopRequested  = "stop_requested"

	// Scheduler events
	TypeSchedule = "schedule"

	// Supervisor events
	TypePhaseStart            = "phase_start"
	TypePhaseEnd              = "phase_end"
	TypeStuckWorker           = "stuck_worker"
	TypeRuntimeBudgetExceeded = "runtime_budget_exceeded"
	TypeWorkerExitedWithError = "worker_exited_with_error"

	// Breaker events
	TypeBreakerTransition   = "breaker_transition"
	TypeNoSustainedProgress = "no_sustained_progress"

	// Reclaimer events
	TypeResourceLeak = "resource_leak_detected"

	// Sync events
	TypePublish     = "publish"
	TypePublishFail = "publish_fail"
)

// Event is a single entry in a run's event stream.
type Event struct {
	// Identification
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"ts"`

	// Classification
	Component string `json:"component"`
	Type      string `json:"type"`
	Level     string `json:"level"`

	// Association
	Iteration int    `json:"iteration,omitempty"`
	Phase     string `json:"phase,omitempty"`

	// Content
	Data     any       `json:"data,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Decision is a decision point with its rule, conditions, and result.
type Decision struct {
	Rule       string         `json:"rule"`
	Conditions map[string]any `json:"conditions"`
	Result     string         `json:"result"`
}

// EventOption configures an Event.
type EventOption func(*Event)

// WithIteration sets the iteration number.
func WithIteration(n int) EventOption {
	return func(e *Event) {
		e.Iteration = n
	}
}

// WithPhase sets the phase name.
func WithPhase(phase string) EventOption {
	return func(e *Event) {
		e.Phase = phase
	}
}

// WithData sets arbitrary data for the event.
func WithData(data any) EventOption {
	return func(e *Event) {
		e.Data = data
	}
}

// WithError sets the error message for the event.
func WithError(err error) EventOption {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithErrorString sets the error message from a string.
func WithErrorString(msg string) EventOption {
	return func(e *Event) {
		e.Error = msg
	}
}

// NewEvent creates an Event.
func NewEvent(seq int, component, eventType, level string, opts ...EventOption) *Event {
	e := &Event{
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Component: component,
		Type:      eventType,
		Level:     level,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewDecisionEvent creates a decision event.
func NewDecisionEvent(seq int, component, eventType string, decision Decision, opts ...EventOption) *Event {
	e := NewEvent(seq, component, eventType, LevelDecision, opts...)
	e.Decision = &decision
	return e
}
