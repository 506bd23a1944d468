package phase

import (
	"context"
	"log/slog"
)

// CountSource provides the queue depths the scheduler needs.
type CountSource interface {
	PendingVerificationCount(ctx context.Context) (int, error)
	OpenItemCount(ctx context.Context) (int, error)
}

// Decision is the schedule for one iteration.
type Decision struct {
	Iteration int
	// Counts.Open is -1 when the open count could not be read.
	Counts QueueCounts
	Phases []ID
	// Reasons maps each phase to why it was included or skipped.
	Reasons map[ID]string
}

// Includes reports whether the decision runs phase id.
func (d Decision) Includes(id ID) bool {
	for _, p := range d.Phases {
		if p == id {
			return true
		}
	}
	return false
}

// Scheduler queries the queue and applies Select.
type Scheduler struct {
	source          CountSource
	strategistEvery int
	logger          *slog.Logger
}

// NewScheduler creates a Scheduler. A nil logger uses slog.Default().
func NewScheduler(source CountSource, strategistEvery int, logger *slog.Logger) *Scheduler {
	if strategistEvery <= 0 {
		strategistEvery = DefaultStrategistEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{source: source, strategistEvery: strategistEvery, logger: logger}
}

// Schedule decides the phases for iteration. Queue errors never fail the
// iteration: an unreadable pending count skips the Verifier, and an unreadable
// open count leaves the Strategist to its periodic checkpoint.
func (s *Scheduler) Schedule(ctx context.Context, iteration int) Decision {
	counts := QueueCounts{}
	openKnown := true

	pending, err := s.source.PendingVerificationCount(ctx)
	if err != nil {
		s.logger.Warn("pending verification count unavailable, skipping verifier", "error", err)
	} else {
		counts.PendingVerification = pending
	}

	open, err := s.source.OpenItemCount(ctx)
	if err != nil {
		s.logger.Warn("open item count unavailable, strategist only on checkpoint", "error", err)
		openKnown = false
		// Any positive value disables the empty-queue trigger.
		counts.Open = 1
	} else {
		counts.Open = open
	}

	d := Decision{
		Iteration: iteration,
		Counts:    counts,
		Phases:    Select(iteration, counts, s.strategistEvery),
		Reasons:   make(map[ID]string, len(All)),
	}

	d.Reasons[Implementer] = "always runs"
	if d.Includes(Verifier) {
		d.Reasons[Verifier] = "pending verification items"
	} else {
		d.Reasons[Verifier] = "skipped: nothing pending verification"
	}
	switch {
	case openKnown && counts.Open == 0:
		d.Reasons[Strategist] = "open queue is empty"
	case iteration%s.strategistEvery == 0:
		d.Reasons[Strategist] = "periodic checkpoint"
	default:
		d.Reasons[Strategist] = "skipped: open work remains"
	}

	if !openKnown {
		d.Counts.Open = -1
	}

	for _, id := range All {
		s.logger.Debug("phase decision", "iteration", iteration, "phase", id, "reason", d.Reasons[id])
	}
	return d
}
