package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Monitor decides whether the running worker's heartbeat is fresh.
type Monitor struct {
	store  *Store
	now    func() time.Time
	logger *slog.Logger
}

// NewMonitor creates a Monitor over store. A nil logger uses slog.Default().
func NewMonitor(store *Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, now: time.Now, logger: logger}
}

// SetClock replaces the wall clock. The clock is consulted on every call.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Store returns the underlying record store.
func (m *Monitor) Store() *Store {
	return m.store
}

// IsFresh re-reads the record and reports whether it is no older than
// maxStaleness. A missing record counts as fresh: the worker has just started.
// An unreadable record also counts as fresh for this poll; the runtime budget
// still bounds the worker.
func (m *Monitor) IsFresh(maxStaleness time.Duration) bool {
	rec, err := m.store.Read()
	if err != nil {
		m.logger.Warn("heartbeat unreadable, treating as fresh", "path", m.store.Path(), "error", err)
		return true
	}
	if rec == nil {
		return true
	}

	age := m.now().Sub(rec.Time())
	if age > maxStaleness {
		m.logger.Debug("heartbeat stale", "agent", rec.AgentName, "age", age, "max_staleness", maxStaleness)
		return false
	}
	return true
}

// Age returns how old the current record is. ok is false when there is no
// readable record.
func (m *Monitor) Age() (age time.Duration, rec *Record, ok bool) {
	rec, err := m.store.Read()
	if err != nil || rec == nil {
		return 0, nil, false
	}
	return m.now().Sub(rec.Time()), rec, true
}

// Watch pushes every record the worker writes until ctx is done. Beats are
// dropped if the receiver lags. It is for observation only; staleness
// decisions go through IsFresh.
func (m *Monitor) Watch(ctx context.Context) (<-chan Record, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat watcher: %w", err)
	}

	// Watch the directory: atomic writes replace the file.
	dir := filepath.Dir(m.store.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	out := make(chan Record, 1)
	target := filepath.Clean(m.store.Path())

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
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				rec, err := m.store.Read()
				if err != nil || rec == nil {
					continue
				}
				select {
				case out <- *rec:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Debug("heartbeat watcher error", "error", err)
			}
		}
	}()

	return out, nil
}
