// Package heartbeat implements the liveness record a running worker writes and
// the monitor the supervisor polls to tell a slow worker from a stuck one.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is the heartbeat a worker writes. Timestamp is epoch milliseconds.
type Record struct {
	AgentName string `json:"agent_name"`
	Timestamp int64  `json:"timestamp_ms"`
}

// NewRecord stamps a record for agent at t.
func NewRecord(agent string, t time.Time) Record {
	return Record{AgentName: agent, Timestamp: t.UnixMilli()}
}

// Time returns the record's timestamp.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Store is the file holding the current heartbeat record.
type Store struct {
	path string
}

// NewStore creates a Store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the current record, or nil if none has been written.
func (s *Store) Read() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read heartbeat: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse heartbeat: %w", err)
	}
	return &rec, nil
}

// Write replaces the record atomically.
func (s *Store) Write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create heartbeat directory: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".heartbeat-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write heartbeat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close heartbeat: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace heartbeat: %w", err)
	}
	return nil
}

// Clear removes the record. Clearing a missing record is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear heartbeat: %w", err)
	}
	return nil
}

// Beat writes a fresh record for agent to the file at path.
func Beat(path, agent string) error {
	return NewStore(path).Write(NewRecord(agent, time.Now()))
}
