// Package lock keeps a single supervisor running per workspace.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/silver2dream/pipesup/internal/reclaim"
)

// Info describes the lock holder.
type Info struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	Hostname  string    `json:"hostname"`
}

// Manager handles single-instance protection via a lock file.
type Manager struct {
	lockFile string
	runID    string
	acquired bool
}

// NewManager creates a Manager for lockFile. runID is recorded for status
// inspection.
func NewManager(lockFile, runID string) *Manager {
	return &Manager{lockFile: lockFile, runID: runID}
}

// Acquire takes the lock with O_EXCL. A lock left by a dead process, or one
// that cannot be parsed, is removed and acquisition retried once.
func (m *Manager) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(m.lockFile), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	err := m.create()
	if err == nil || !os.IsExist(err) {
		return err
	}

	info, readErr := ReadInfo(m.lockFile)
	if readErr == nil && info != nil && reclaim.Alive(info.PID) {
		return alreadyRunning(info)
	}

	os.Remove(m.lockFile)
	if err := m.create(); err != nil {
		if os.IsExist(err) {
			if info, _ := ReadInfo(m.lockFile); info != nil && reclaim.Alive(info.PID) {
				return alreadyRunning(info)
			}
			return fmt.Errorf("lock file exists and could not be acquired")
		}
		return err
	}
	return nil
}

// create makes the lock file exclusively and writes the holder info. An
// os.IsExist error is returned unwrapped.
func (m *Manager) create() error {
	f, err := os.OpenFile(m.lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := m.writeInfoTo(f); err != nil {
		f.Close()
		os.Remove(m.lockFile)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(m.lockFile)
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	m.acquired = true
	return nil
}

// Release removes the lock file if this Manager holds it.
func (m *Manager) Release() error {
	if !m.acquired {
		return nil
	}
	if err := os.Remove(m.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	m.acquired = false
	return nil
}

// IsStale reports whether the lock file names a process that is gone.
func (m *Manager) IsStale() bool {
	info, err := ReadInfo(m.lockFile)
	if err != nil || info == nil {
		return false
	}
	return !reclaim.Alive(info.PID)
}

// ReadInfo reads the lock holder. It returns nil, nil when there is no lock.
func ReadInfo(lockFile string) (*Info, error) {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

// Holder returns the live lock holder, or nil if the workspace is unlocked or
// the lock is stale.
func Holder(lockFile string) *Info {
	info, err := ReadInfo(lockFile)
	if err != nil || info == nil || !reclaim.Alive(info.PID) {
		return nil
	}
	return info
}

func (m *Manager) writeInfoTo(f *os.File) error {
	hostname, _ := os.Hostname()
	info := Info{
		PID:       os.Getpid(),
		RunID:     m.runID,
		StartTime: time.Now(),
		Hostname:  hostname,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write lock info: %w", err)
	}
	return nil
}

func alreadyRunning(info *Info) error {
	return fmt.Errorf("another supervisor is running (PID: %d, started: %s)",
		info.PID, info.StartTime.Format(time.RFC3339))
}
