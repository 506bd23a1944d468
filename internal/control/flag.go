// Package control carries operator stop requests to the iteration loop: a
// persistent flag file, process signals, and an optional HTTP endpoint.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Flag is the persisted control state.
type Flag struct {
	Running   bool      `json:"running"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the control flag file.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore creates a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the flag file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the flag, or nil when the file does not exist.
func (s *Store) Read() (*Flag, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read control flag: %w", err)
	}

	var f Flag
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse control flag: %w", err)
	}
	return &f, nil
}

// IsRunning reports whether the loop may start another iteration. An absent
// or unreadable flag means stop.
func (s *Store) IsRunning() bool {
	f, err := s.Read()
	if err != nil || f == nil {
		return false
	}
	return f.Running
}

// Set writes the flag atomically.
func (s *Store) Set(running bool, reason string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(Flag{Running: running, Reason: reason, UpdatedAt: s.now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal control flag: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".control-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp control file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write control flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close control flag: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace control flag: %w", err)
	}
	return nil
}

// Watch signals on the returned channel whenever the flag file changes, until
// ctx is done. Notifications coalesce.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create control watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	out := make(chan struct{}, 1)
	target := filepath.Clean(s.path)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("control watcher error", "error", err)
			}
		}
	}()

	return out, nil
}
