package loop

import (
	"time"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/supervisor"
)

// Loop states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
	StateHalted  = "halted"
)

// Status is the loop's externally visible state.
type Status struct {
	RunID        string           `json:"run_id,omitempty"`
	State        string           `json:"state"`
	StartedAt    time.Time        `json:"started_at,omitzero"`
	Iteration    int              `json:"iteration"`
	CurrentPhase string           `json:"current_phase,omitempty"`
	Breaker      breaker.Snapshot `json:"breaker"`
	LastPhase    *PhaseStatus     `json:"last_phase,omitempty"`
}

// PhaseStatus summarizes the most recent phase run.
type PhaseStatus struct {
	Phase     string `json:"phase"`
	Iteration int    `json:"iteration"`
	Cause     string `json:"cause"`
	ExitCode  *int   `json:"exit_code"`
	Elapsed   string `json:"elapsed"`
	LogPath   string `json:"log_path,omitempty"`
}

func newPhaseStatus(r supervisor.Result) *PhaseStatus {
	return &PhaseStatus{
		Phase:     r.Phase,
		Iteration: r.Iteration,
		Cause:     r.Cause.String(),
		ExitCode:  r.ExitCode,
		Elapsed:   r.Elapsed.Round(time.Millisecond).String(),
		LogPath:   r.LogPath,
	}
}
