// Package reset clears supervisor state a previous run left in the workspace.
package reset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/reclaim"
	"github.com/silver2dream/pipesup/internal/trace"
)

// Result represents the result of a reset operation
type Result struct {
	Name    string
	Success bool
	Message string
}

// Resetter performs reset operations on a workspace's state directory.
type Resetter struct {
	Paths  config.Paths
	DryRun bool
}

// New creates a new Resetter
func New(paths config.Paths) *Resetter {
	return &Resetter{Paths: paths}
}

// SetDryRun enables dry-run mode
func (r *Resetter) SetDryRun(dryRun bool) {
	r.DryRun = dryRun
}

// ResetAll clears breaker, heartbeat and control state, and removes a stale
// PID file and a stale lock. Live owners are left alone.
func (r *Resetter) ResetAll() []Result {
	return []Result{
		r.ResetBreaker(),
		r.ResetHeartbeat(),
		r.ResetControl(),
		r.ResetWorker(),
		r.ResetLock(),
	}
}

// ResetBreaker removes the persisted circuit breaker snapshot.
func (r *Resetter) ResetBreaker() Result {
	return r.remove("Circuit breaker", r.Paths.BreakerFile)
}

// ResetHeartbeat removes the last heartbeat record.
func (r *Resetter) ResetHeartbeat() Result {
	return r.remove("Heartbeat", r.Paths.HeartbeatFile)
}

// ResetControl removes the control flag.
func (r *Resetter) ResetControl() Result {
	return r.remove("Control flag", r.Paths.ControlFile)
}

// ResetWorker removes the PID file of a worker that is no longer running.
func (r *Resetter) ResetWorker() Result {
	const name = "Worker PID file"
	path := filepath.Join(r.Paths.PIDDir, reclaim.CurrentPIDFile)

	info, err := reclaim.ReadPIDFile(r.Paths.PIDDir)
	if err == nil && info != nil && reclaim.Alive(info.PID) {
		return Result{
			Name:    name,
			Success: false,
			Message: fmt.Sprintf("Worker PID %d is still running (use pipesup sweep)", info.PID),
		}
	}
	return r.remove(name, path)
}

// ResetLock removes the lock file when its holder is gone.
func (r *Resetter) ResetLock() Result {
	const name = "Lock file"
	if holder := lock.Holder(r.Paths.LockFile); holder != nil {
		return Result{
			Name:    name,
			Success: false,
			Message: fmt.Sprintf("Held by running supervisor PID %d", holder.PID),
		}
	}
	return r.remove(name, r.Paths.LockFile)
}

// PruneEvents deletes all but the newest keep event traces.
func (r *Resetter) PruneEvents(keep int) []Result {
	runs, err := trace.NewEventReader(r.Paths.EventsDir).ListRuns()
	if err != nil {
		return []Result{{Name: "Events", Success: false, Message: fmt.Sprintf("Failed to list runs: %v", err)}}
	}
	if keep < 0 {
		keep = 0
	}

	var results []Result
	for i := keep; i < len(runs); i++ {
		results = append(results, r.remove("Events "+runs[i], r.Paths.EventsPath(runs[i])))
	}
	return results
}

// PruneLogs deletes all but the newest keep phase logs.
func (r *Resetter) PruneLogs(keep int) []Result {
	entries, err := os.ReadDir(r.Paths.LogDir)
	if err != nil {
		return nil
	}

	type logFile struct {
		name    string
		modUnix int64
	}
	var logs []logFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logFile{name: entry.Name(), modUnix: info.ModTime().UnixNano()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].modUnix > logs[j].modUnix })

	if keep < 0 {
		keep = 0
	}
	var results []Result
	for i := keep; i < len(logs); i++ {
		results = append(results, r.remove("Log "+logs[i].name, filepath.Join(r.Paths.LogDir, logs[i].name)))
	}
	return results
}

func (r *Resetter) remove(name, path string) Result {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Result{Name: name, Success: true, Message: "Not present"}
	}

	if r.DryRun {
		return Result{Name: name, Success: true, Message: fmt.Sprintf("Would delete %s", path)}
	}

	if err := os.Remove(path); err != nil {
		return Result{Name: name, Success: false, Message: fmt.Sprintf("Failed to delete: %v", err)}
	}
	return Result{Name: name, Success: true, Message: "Deleted"}
}
