package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// EventFilter selects events. Zero fields match everything.
type EventFilter struct {
	Levels    []string
	Component string
	Types     []string
	Iteration int
	Phase     string
	Last      int // keep only the last N matches
}

// EventReader reads run event streams from an events directory.
type EventReader struct {
	eventsDir string
}

// NewEventReader creates an EventReader over eventsDir.
func NewEventReader(eventsDir string) *EventReader {
	return &EventReader{eventsDir: eventsDir}
}

// ReadRun reads every event of runID.
func (r *EventReader) ReadRun(runID string) ([]Event, error) {
	return readEventsFromFile(r.RunFilePath(runID))
}

// ReadRunFiltered reads the events of runID that match filter.
func (r *EventReader) ReadRunFiltered(runID string, filter EventFilter) ([]Event, error) {
	events, err := r.ReadRun(runID)
	if err != nil {
		return nil, err
	}
	return applyFilter(events, filter), nil
}

// ListRuns returns run IDs, newest first.
func (r *EventReader) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(r.eventsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read events directory: %w", err)
	}

	var runs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			runs = append(runs, strings.TrimSuffix(entry.Name(), ".jsonl"))
		}
	}

	// Run IDs start with their UTC start time.
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// LatestRun returns the newest run ID, or "" when there is none.
func (r *EventReader) LatestRun() (string, error) {
	runs, err := r.ListRuns()
	if err != nil || len(runs) == 0 {
		return "", err
	}
	return runs[0], nil
}

// RunFilePath returns the event file for runID.
func (r *EventReader) RunFilePath(runID string) string {
	return filepath.Join(r.eventsDir, runID+".jsonl")
}

func readEventsFromFile(filePath string) ([]Event, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		// A torn final line from a crash is skipped.
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading event file: %w", err)
	}
	return events, nil
}

func applyFilter(events []Event, filter EventFilter) []Event {
	var filtered []Event
	for _, e := range events {
		if matchesFilter(e, filter) {
			filtered = append(filtered, e)
		}
	}

	if filter.Last > 0 && len(filtered) > filter.Last {
		filtered = filtered[len(filtered)-filter.Last:]
	}
	return filtered
}

func matchesFilter(e Event, filter EventFilter) bool {
	if len(filter.Levels) > 0 && !slices.Contains(filter.Levels, e.Level) {
		return false
	}
	if filter.Component != "" && e.Component != filter.Component {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, e.Type) {
		return false
	}
	if filter.Iteration > 0 && e.Iteration != filter.Iteration {
		return false
	}
	if filter.Phase != "" && e.Phase != filter.Phase {
		return false
	}
	return true
}
