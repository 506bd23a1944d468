package trace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEventWriter_Write(t *testing.T) {
	eventsDir := filepath.Join(t.TempDir(), "events")
	runID := "20261018-120000-abcd1234"

	writer, err := NewEventWriter(eventsDir, runID)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer writer.Close()

	if err := writer.Write(ComponentLoop, TypeRunStart, LevelInfo); err != nil {
		t.Fatalf("failed to write event: %v", err)
	}

	err = writer.Write(ComponentSupervisor, TypeStuckWorker, LevelWarn,
		WithIteration(4),
		WithPhase("implementer"),
		WithData(map[string]any{"exit_code": 125}))
	if err != nil {
		t.Fatalf("failed to write event with options: %v", err)
	}

	err = writer.WriteDecision(ComponentScheduler, TypeSchedule, Decision{
		Rule:       "strategist if: open == 0 OR iteration % every == 0",
		Conditions: map[string]any{"open": 0, "iteration": 4, "every": 5},
		Result:     "implementer,strategist",
	}, WithIteration(4))
	if err != nil {
		t.Fatalf("failed to write decision event: %v", err)
	}

	if writer.Seq() != 3 {
		t.Errorf("expected seq 3, got %d", writer.Seq())
	}
	writer.Close()

	reader := NewEventReader(eventsDir)
	events, err := reader.ReadRun(runID)
	if err != nil {
		t.Fatalf("failed to read run: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	if events[0].Seq != 1 || events[0].Type != TypeRunStart {
		t.Errorf("event 0: got seq %d type %s", events[0].Seq, events[0].Type)
	}
	if events[1].Iteration != 4 || events[1].Phase != "implementer" {
		t.Errorf("event 1: got iteration %d phase %q", events[1].Iteration, events[1].Phase)
	}
	if events[1].Level != LevelWarn {
		t.Errorf("event 1: expected level warn, got %s", events[1].Level)
	}
	if events[2].Decision == nil {
		t.Fatal("event 2: expected decision")
	}
	if events[2].Decision.Result != "implementer,strategist" {
		t.Errorf("event 2: unexpected result %s", events[2].Decision.Result)
	}
}

func TestEventReader_Filter(t *testing.T) {
	eventsDir := t.TempDir()
	runID := "run-filter"

	writer, err := NewEventWriter(eventsDir, runID)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	writer.Write(ComponentLoop, TypeIterationStart, LevelInfo, WithIteration(1))
	writer.Write(ComponentSupervisor, TypePhaseEnd, LevelInfo, WithIteration(1), WithPhase("implementer"))
	writer.Write(ComponentSupervisor, TypeWorkerExitedWithError, LevelError, WithIteration(1), WithPhase("verifier"))
	writer.Write(ComponentLoop, TypeIterationStart, LevelInfo, WithIteration(2))
	writer.Write(ComponentSupervisor, TypeRuntimeBudgetExceeded, LevelWarn, WithIteration(2), WithPhase("implementer"))
	writer.Write(ComponentBreaker, TypeNoSustainedProgress, LevelError, WithIteration(2))
	writer.Close()

	reader := NewEventReader(eventsDir)

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 6},
		{"iteration", EventFilter{Iteration: 2}, 3},
		{"phase", EventFilter{Phase: "implementer"}, 2},
		{"component", EventFilter{Component: ComponentSupervisor}, 3},
		{"levels", EventFilter{Levels: []string{LevelWarn, LevelError}}, 3},
		{"types", EventFilter{Types: []string{TypeIterationStart}}, 2},
		{"last", EventFilter{Last: 2}, 2},
		{"combined", EventFilter{Component: ComponentSupervisor, Iteration: 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := reader.ReadRunFiltered(runID, tt.filter)
			if err != nil {
				t.Fatalf("failed to read: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(events))
			}
		})
	}

	last, _ := reader.ReadRunFiltered(runID, EventFilter{Last: 1})
	if len(last) != 1 || last[0].Type != TypeNoSustainedProgress {
		t.Errorf("last filter should keep the final event, got %+v", last)
	}
}

func TestEventWriter_Resume(t *testing.T) {
	eventsDir := t.TempDir()
	runID := "run-resume"

	w1, err := NewEventWriter(eventsDir, runID)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	w1.Write(ComponentLoop, TypeRunStart, LevelInfo)
	w1.Write(ComponentLoop, TypeIterationStart, LevelInfo, WithIteration(1))
	w1.Close()

	w2, err := NewEventWriter(eventsDir, runID)
	if err != nil {
		t.Fatalf("failed to reopen writer: %v", err)
	}
	if w2.Seq() != 2 {
		t.Errorf("expected resumed seq 2, got %d", w2.Seq())
	}
	w2.Write(ComponentLoop, TypeRunEnd, LevelInfo)
	w2.Close()

	events, err := NewEventReader(eventsDir).ReadRun(runID)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(events) != 3 || events[2].Seq != 3 {
		t.Errorf("expected 3 events ending at seq 3, got %+v", events)
	}
}

func TestEventReader_SkipsTornLine(t *testing.T) {
	eventsDir := t.TempDir()
	path := filepath.Join(eventsDir, "torn.jsonl")
	content := `{"seq":1,"ts":"2026-10-18T12:00:00Z","component":"loop","type":"run_start","level":"info"}` + "\n" +
		`{"seq":2,"ts":"2026-10-18T12:00:01Z","compo`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	events, err := NewEventReader(eventsDir).ReadRun("torn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestEventOption_WithError(t *testing.T) {
	e := NewEvent(1, ComponentSync, TypePublishFail, LevelError, WithError(errors.New("push rejected")))
	if e.Error != "push rejected" {
		t.Errorf("expected error message, got %q", e.Error)
	}

	e = NewEvent(2, ComponentSync, TypePublish, LevelInfo, WithError(nil))
	if e.Error != "" {
		t.Errorf("nil error should leave message empty, got %q", e.Error)
	}
}

func TestNewDecisionEvent(t *testing.T) {
	d := Decision{
		Rule:       "open if: no_progress >= stop_threshold",
		Conditions: map[string]any{"no_progress": 5, "stop_threshold": 5},
		Result:     "OPEN",
	}
	e := NewDecisionEvent(7, ComponentBreaker, TypeBreakerTransition, d, WithIteration(9))

	if e.Level != LevelDecision {
		t.Errorf("expected decision level, got %s", e.Level)
	}
	if e.Decision == nil || e.Decision.Result != "OPEN" {
		t.Errorf("unexpected decision %+v", e.Decision)
	}
	if e.Iteration != 9 {
		t.Errorf("expected iteration 9, got %d", e.Iteration)
	}
}

func TestEventReader_ListRuns(t *testing.T) {
	eventsDir := t.TempDir()
	reader := NewEventReader(eventsDir)

	latest, err := reader.LatestRun()
	if err != nil || latest != "" {
		t.Fatalf("empty dir: got %q, %v", latest, err)
	}

	older := NewRunID(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))
	newer := NewRunID(time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC))
	for _, id := range []string{older, newer} {
		w, err := NewEventWriter(eventsDir, id)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(ComponentLoop, TypeRunStart, LevelInfo)
		w.Close()
	}
	os.WriteFile(filepath.Join(eventsDir, "notes.txt"), []byte("x"), 0644)

	runs, err := reader.ListRuns()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(runs) != 2 || runs[0] != newer || runs[1] != older {
		t.Errorf("expected [%s %s], got %v", newer, older, runs)
	}

	latest, _ = reader.LatestRun()
	if latest != newer {
		t.Errorf("expected latest %s, got %s", newer, latest)
	}
}

func TestEventReader_ListRunsMissingDir(t *testing.T) {
	runs, err := NewEventReader(filepath.Join(t.TempDir(), "missing")).ListRuns()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %v", runs)
	}
}

func TestEventReader_NonExistentRun(t *testing.T) {
	_, err := NewEventReader(t.TempDir()).ReadRun("nope")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("expected run not found, got %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	at := time.Date(2026, 10, 18, 15, 4, 5, 0, time.UTC)
	a := NewRunID(at)
	b := NewRunID(at)

	if !strings.HasPrefix(a, "20261018-150405-") {
		t.Errorf("unexpected prefix: %s", a)
	}
	if len(a) != len("20261018-150405-")+8 {
		t.Errorf("unexpected length: %s", a)
	}
	if a == b {
		t.Errorf("run IDs should be unique, both %s", a)
	}
}

func TestNilWriter(t *testing.T) {
	var w *EventWriter
	if err := w.Write(ComponentLoop, TypeRunStart, LevelInfo); err != nil {
		t.Errorf("nil writer Write: %v", err)
	}
	if err := w.WriteDecision(ComponentScheduler, TypeSchedule, Decision{}); err != nil {
		t.Errorf("nil writer WriteDecision: %v", err)
	}
	if w.Seq() != 0 || w.RunID() != "" || w.FilePath() != "" {
		t.Error("nil writer should report zero values")
	}
	if err := w.Close(); err != nil {
		t.Errorf("nil writer Close: %v", err)
	}
}

func TestEventWriter_FilePath(t *testing.T) {
	eventsDir := t.TempDir()
	w, err := NewEventWriter(eventsDir, "run-path")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	want := filepath.Join(eventsDir, "run-path.jsonl")
	if w.FilePath() != want {
		t.Errorf("expected %s, got %s", want, w.FilePath())
	}
	if w.RunID() != "run-path" {
		t.Errorf("unexpected run ID %s", w.RunID())
	}
}
