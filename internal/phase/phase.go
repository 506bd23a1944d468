// Package phase decides which pipeline phases run in an iteration.
package phase

// ID identifies one of the three pipeline phases.
type ID string

const (
	Implementer ID = "implementer"
	Verifier    ID = "verifier"
	Strategist  ID = "strategist"
)

// DefaultStrategistEvery is the periodic strategist checkpoint interval.
const DefaultStrategistEvery = 5

// All lists the phases in their fixed logical order.
var All = []ID{Implementer, Verifier, Strategist}

// String returns the phase name.
func (id ID) String() string { return string(id) }

// Valid reports whether id names a known phase.
func (id ID) Valid() bool {
	switch id {
	case Implementer, Verifier, Strategist:
		return true
	}
	return false
}

// QueueCounts are the two queue depths the schedule depends on.
type QueueCounts struct {
	PendingVerification int
	Open                int
}

// Select returns the phases to run for an iteration, in execution order.
// It is a pure function of its arguments. strategistEvery <= 0 uses
// DefaultStrategistEvery.
func Select(iteration int, counts QueueCounts, strategistEvery int) []ID {
	if strategistEvery <= 0 {
		strategistEvery = DefaultStrategistEvery
	}

	phases := []ID{Implementer}
	if counts.PendingVerification >= 1 {
		phases = append(phases, Verifier)
	}
	if counts.Open == 0 || iteration%strategistEvery == 0 {
		phases = append(phases, Strategist)
	}
	return phases
}
