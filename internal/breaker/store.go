package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists the breaker snapshot as JSON.
type Store struct {
	path string
}

// NewStore creates a Store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

type storedSnapshot struct {
	Snapshot
	SavedAt time.Time `json:"saved_at"`
}

// Load reads the persisted snapshot. A missing file yields the zero snapshot.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to read breaker state: %w", err)
	}

	var stored storedSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse breaker state: %w", err)
	}
	return stored.Snapshot, nil
}

// Save writes the snapshot atomically.
// Note: On Windows, os.Rename cannot overwrite existing files, so we remove first
func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(storedSnapshot{Snapshot: snap, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp breaker state: %w", err)
	}

	_ = os.Remove(s.path)

	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename breaker state: %w", err)
	}
	return nil
}

// Reset persists {CLOSED, 0, 0}. It runs unconditionally at supervisor start so
// a previous run's OPEN state never blocks a new one.
func (s *Store) Reset() error {
	return s.Save(Snapshot{})
}
