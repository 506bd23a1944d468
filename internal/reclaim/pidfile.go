package reclaim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CurrentPIDFile is the name of the PID file for the worker the supervisor owns.
const CurrentPIDFile = "current.json"

// PIDFile tracks the running worker so a later sweep can reclaim it after a
// supervisor crash.
type PIDFile struct {
	PID        int       `json:"pid"`
	PGID       int       `json:"pgid"`
	Phase      string    `json:"phase"`
	Iteration  int       `json:"iteration"`
	Command    string    `json:"command"`
	Supervisor int       `json:"supervisor_pid"`
	StartedAt  time.Time `json:"started_at"`
}

// WritePIDFile records the current worker under pidDir.
func WritePIDFile(pidDir string, info *PIDFile) error {
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return fmt.Errorf("failed to create pids directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID info: %w", err)
	}

	return os.WriteFile(filepath.Join(pidDir, CurrentPIDFile), data, 0644)
}

// ReadPIDFile reads the current worker record. It returns nil when none exists.
func ReadPIDFile(pidDir string) (*PIDFile, error) {
	data, err := os.ReadFile(filepath.Join(pidDir, CurrentPIDFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info PIDFile
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse PID file: %w", err)
	}

	return &info, nil
}

// RemovePIDFile removes the current worker record.
func RemovePIDFile(pidDir string) error {
	err := os.Remove(filepath.Join(pidDir, CurrentPIDFile))
	if os.IsNotExist(err) {
		return nil // Already cleaned up
	}
	return err
}

// Alive reports whether pid names a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return processAlive(pid)
}
