// Package doctor checks that a workspace can run the pipeline and reports
// state a crashed run left behind.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/silver2dream/pipesup/internal/breaker"
	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/control"
	"github.com/silver2dream/pipesup/internal/lock"
	"github.com/silver2dream/pipesup/internal/phase"
	"github.com/silver2dream/pipesup/internal/reclaim"
)

// Check statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// CheckResult represents the result of a single check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// Doctor performs health checks on a workspace.
type Doctor struct {
	Paths   config.Paths
	Config  *config.Config
	Timeout time.Duration

	lookPath func(file string) (string, error)
	run      func(ctx context.Context, dir, name string, args ...string) error
}

// New creates a new Doctor
func New(paths config.Paths, cfg *config.Config) *Doctor {
	return &Doctor{
		Paths:    paths,
		Config:   cfg,
		Timeout:  30 * time.Second,
		lookPath: exec.LookPath,
		run:      runQuiet,
	}
}

func runQuiet(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// RunAll executes all health checks
func (d *Doctor) RunAll(ctx context.Context) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	var results []CheckResult

	// 1. Tools and workspace
	results = append(results, d.CheckGit(ctx)...)
	results = append(results, d.CheckQueue(ctx)...)
	results = append(results, d.CheckPhaseCommands()...)
	results = append(results, d.CheckReclaimTools()...)

	// 2. State left by previous runs
	results = append(results, d.CheckLock())
	results = append(results, d.CheckWorker()...)
	results = append(results, d.CheckBreaker()...)
	results = append(results, d.CheckControl()...)

	return results
}

// HasErrors reports whether any result is an error.
func HasErrors(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// CheckGit verifies the workspace is a git work tree and, when pushing, that
// the remote exists.
func (d *Doctor) CheckGit(ctx context.Context) []CheckResult {
	if _, err := d.lookPath("git"); err != nil {
		return []CheckResult{{
			Name:    "Git",
			Status:  StatusError,
			Message: "git not found in PATH",
		}}
	}
	if err := d.run(ctx, d.Paths.Root, "git", "rev-parse", "--is-inside-work-tree"); err != nil {
		return []CheckResult{{
			Name:    "Git",
			Status:  StatusError,
			Message: fmt.Sprintf("%s is not a git work tree (progress is measured by git status)", d.Paths.Root),
			Fix:     "git init",
		}}
	}
	results := []CheckResult{{Name: "Git", Status: StatusOK, Message: "Workspace is a git work tree"}}

	if d.Config.Sync.Push {
		remote := d.Config.Sync.Remote
		if err := d.run(ctx, d.Paths.Root, "git", "remote", "get-url", remote); err != nil {
			results = append(results, CheckResult{
				Name:    "Git Remote",
				Status:  StatusError,
				Message: fmt.Sprintf("remote %q not configured but sync.push is enabled", remote),
				Fix:     "git remote add " + remote + " <url>, or set sync.push: false",
			})
		} else {
			results = append(results, CheckResult{Name: "Git Remote", Status: StatusOK, Message: "Remote " + remote})
		}
	}
	return results
}

// CheckQueue verifies the gh CLI is usable for the github queue.
func (d *Doctor) CheckQueue(ctx context.Context) []CheckResult {
	if d.Config.Queue.Kind != "github" {
		return []CheckResult{{Name: "Queue", Status: StatusOK, Message: "Using " + d.Config.Queue.Kind + " queue"}}
	}
	if _, err := d.lookPath("gh"); err != nil {
		return []CheckResult{{
			Name:    "Queue",
			Status:  StatusError,
			Message: "gh not found in PATH (required by queue.kind: github)",
		}}
	}
	if err := d.run(ctx, d.Paths.Root, "gh", "auth", "status"); err != nil {
		return []CheckResult{{
			Name:    "Queue",
			Status:  StatusWarning,
			Message: "gh is not authenticated; queue counts will read as unavailable",
			Fix:     "gh auth login",
		}}
	}
	return []CheckResult{{Name: "Queue", Status: StatusOK, Message: "gh authenticated"}}
}

// CheckPhaseCommands checks that each phase has a command whose program can
// be found. Shell builtins and constructs are reported as warnings only.
func (d *Doctor) CheckPhaseCommands() []CheckResult {
	var results []CheckResult
	for _, id := range phase.All {
		command := strings.TrimSpace(d.Config.Phases.Command(id.String()))
		name := "Phase: " + id.String()
		if command == "" {
			results = append(results, CheckResult{
				Name:    name,
				Status:  StatusError,
				Message: "no command configured",
				Fix:     fmt.Sprintf("set phases.%s.command", id),
			})
			continue
		}
		program := strings.Fields(command)[0]
		if _, err := d.lookPath(program); err != nil {
			results = append(results, CheckResult{
				Name:    name,
				Status:  StatusWarning,
				Message: fmt.Sprintf("%q not found in PATH", program),
			})
			continue
		}
		results = append(results, CheckResult{Name: name, Status: StatusOK, Message: program})
	}
	return results
}

// CheckReclaimTools checks the tools the reclaimer shells out to.
func (d *Doctor) CheckReclaimTools() []CheckResult {
	var results []CheckResult
	if len(d.Config.Reclaim.ProcessPatterns) > 0 {
		results = append(results, d.checkTool("pgrep", "reclaim.process_patterns"))
	}
	if len(d.Config.Reclaim.Ports) > 0 {
		results = append(results, d.checkTool("lsof", "reclaim.ports"))
	}
	return results
}

func (d *Doctor) checkTool(tool, field string) CheckResult {
	if _, err := d.lookPath(tool); err != nil {
		return CheckResult{
			Name:    "Reclaim",
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s not found in PATH; %s will not be reclaimed", tool, field),
		}
	}
	return CheckResult{Name: "Reclaim", Status: StatusOK, Message: tool + " available"}
}

// CheckLock checks for a stale lock file
func (d *Doctor) CheckLock() CheckResult {
	info, err := lock.ReadInfo(d.Paths.LockFile)
	switch {
	case err != nil:
		return CheckResult{
			Name:    "Lock File",
			Status:  StatusWarning,
			Message: fmt.Sprintf("Unreadable lock file: %v", err),
			Fix:     "pipesup reset",
		}
	case info == nil:
		return CheckResult{Name: "Lock File", Status: StatusOK, Message: "No lock file"}
	case reclaim.Alive(info.PID):
		return CheckResult{
			Name:    "Lock File",
			Status:  StatusOK,
			Message: fmt.Sprintf("Supervisor running (PID %d, run %s)", info.PID, info.RunID),
		}
	default:
		return CheckResult{
			Name:    "Lock File",
			Status:  StatusWarning,
			Message: fmt.Sprintf("Stale lock from PID %d (age: %v)", info.PID, time.Since(info.StartTime).Round(time.Minute)),
			Fix:     "pipesup reset",
		}
	}
}

// CheckWorker reports a worker that outlived its supervisor.
func (d *Doctor) CheckWorker() []CheckResult {
	info, err := reclaim.ReadPIDFile(d.Paths.PIDDir)
	if err != nil {
		return []CheckResult{{
			Name:    "Worker",
			Status:  StatusWarning,
			Message: fmt.Sprintf("Unreadable PID file: %v", err),
			Fix:     "pipesup reset",
		}}
	}
	if info == nil {
		return nil
	}

	if !reclaim.Alive(info.PID) {
		return []CheckResult{{
			Name:    "Worker",
			Status:  StatusWarning,
			Message: fmt.Sprintf("Stale PID file for %s iteration %d", info.Phase, info.Iteration),
			Fix:     "pipesup reset",
		}}
	}
	if lock.Holder(d.Paths.LockFile) == nil {
		return []CheckResult{{
			Name:    "Worker",
			Status:  StatusError,
			Message: fmt.Sprintf("Orphaned %s worker PID %d is still running", info.Phase, info.PID),
			Fix:     "pipesup sweep",
		}}
	}
	return []CheckResult{{
		Name:    "Worker",
		Status:  StatusOK,
		Message: fmt.Sprintf("%s running (PID %d)", info.Phase, info.PID),
	}}
}

// CheckBreaker reports a halt recorded by the previous run.
func (d *Doctor) CheckBreaker() []CheckResult {
	snap, err := breaker.NewStore(d.Paths.BreakerFile).Load()
	if err != nil {
		return []CheckResult{{
			Name:    "Circuit Breaker",
			Status:  StatusWarning,
			Message: err.Error(),
			Fix:     "pipesup reset",
		}}
	}
	if snap.State == breaker.Open {
		msg := fmt.Sprintf("Previous run halted after %d iterations without progress (last progress at %d)",
			snap.NoProgressCount, snap.LastProgressIteration)
		return []CheckResult{{
			Name:    "Circuit Breaker",
			Status:  StatusWarning,
			Message: msg,
		}}
	}
	return nil
}

// CheckControl reports an unreadable control flag.
func (d *Doctor) CheckControl() []CheckResult {
	if _, err := control.NewStore(d.Paths.ControlFile).Read(); err != nil {
		return []CheckResult{{
			Name:    "Control Flag",
			Status:  StatusWarning,
			Message: err.Error(),
			Fix:     "pipesup reset",
		}}
	}
	return nil
}
