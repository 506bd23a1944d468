package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a run ID that sorts by start time.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// EventWriter appends events to <eventsDir>/<runID>.jsonl. A nil
// *EventWriter discards everything.
type EventWriter struct {
	runID string
	file  *os.File
	seq   int
	mu    sync.Mutex
}

// NewEventWriter opens the event file for runID, creating eventsDir if needed.
// Reopening an existing run continues its sequence numbers.
func NewEventWriter(eventsDir, runID string) (*EventWriter, error) {
	if err := os.MkdirAll(eventsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}

	filePath := filepath.Join(eventsDir, runID+".jsonl")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}

	seq := 0
	if existing, err := readEventsFromFile(filePath); err == nil {
		for _, e := range existing {
			if e.Seq > seq {
				seq = e.Seq
			}
		}
	}

	return &EventWriter{runID: runID, file: file, seq: seq}, nil
}

// Write appends an event.
func (w *EventWriter) Write(component, eventType, level string, opts ...EventOption) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	return w.writeEvent(NewEvent(w.seq, component, eventType, level, opts...))
}

// WriteDecision appends a decision event.
func (w *EventWriter) WriteDecision(component, eventType string, decision Decision, opts ...EventOption) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	return w.writeEvent(NewDecisionEvent(w.seq, component, eventType, decision, opts...))
}

// writeEvent must be called with the lock held.
func (w *EventWriter) writeEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return w.file.Sync()
}

// Close closes the event file.
func (w *EventWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// RunID returns the run this writer records.
func (w *EventWriter) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

// FilePath returns the path of the event file.
func (w *EventWriter) FilePath() string {
	if w == nil || w.file == nil {
		return ""
	}
	return w.file.Name()
}

// Seq returns the last sequence number written.
func (w *EventWriter) Seq() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}
