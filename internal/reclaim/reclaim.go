// Package reclaim terminates processes and frees ports left behind by workers
// that exited abnormally.
package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"
)

// Reasons a process was reclaimed.
const (
	ReasonStalePIDFile = "stale_pid_file"
	ReasonPattern      = "process_pattern"
	ReasonPort         = "port"
)

// Kill describes one reclaimed process.
type Kill struct {
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
	Forced bool   `json:"forced"`
}

// SweepResult is what one sweep reclaimed.
type SweepResult struct {
	Killed []Kill   `json:"killed,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Empty reports whether the sweep found nothing to reclaim.
func (r SweepResult) Empty() bool {
	return len(r.Killed) == 0
}

// Options configures a Reclaimer.
type Options struct {
	PIDDir          string
	ProcessPatterns []string
	Ports           []int
	GracePeriod     time.Duration
	Finder          Finder       // nil = CommandFinder
	Logger          *slog.Logger // nil = slog.Default()
	// OnKill is called for every reclaimed process.
	OnKill func(Kill)
}

// Reclaimer performs best-effort, idempotent sweeps.
type Reclaimer struct {
	opts    Options
	exclude map[int]bool
}

// New creates a Reclaimer. The current process and its parent are never killed.
func New(opts Options) *Reclaimer {
	if opts.Finder == nil {
		opts.Finder = CommandFinder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reclaimer{
		opts:    opts,
		exclude: map[int]bool{os.Getpid(): true, os.Getppid(): true},
	}
}

// Sweep reclaims, in order: the worker named by a stale PID file, processes
// matching the configured patterns, and holders of the configured ports.
// Errors are collected, never returned.
func (r *Reclaimer) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	done := make(map[int]bool)

	r.sweepPIDFile(&result, done)

	for _, pattern := range r.opts.ProcessPatterns {
		pids, err := r.opts.Finder.ByPattern(ctx, pattern)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("pattern %q: %v", pattern, err))
			continue
		}
		r.killAll(&result, done, pids, ReasonPattern, pattern)
	}

	for _, port := range r.opts.Ports {
		pids, err := r.opts.Finder.ByPort(ctx, port)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("port %d: %v", port, err))
			continue
		}
		r.killAll(&result, done, pids, ReasonPort, fmt.Sprintf("tcp:%d", port))
	}

	for _, e := range result.Errors {
		r.opts.Logger.Debug("sweep step failed", "error", e)
	}
	return result
}

func (r *Reclaimer) sweepPIDFile(result *SweepResult, done map[int]bool) {
	if r.opts.PIDDir == "" {
		return
	}

	info, err := ReadPIDFile(r.opts.PIDDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("pid file: %v", err))
		_ = RemovePIDFile(r.opts.PIDDir)
		return
	}
	if info == nil {
		return
	}

	target, group := info.PID, false
	if info.PGID > 0 && GroupAlive(info.PGID) {
		target, group = info.PGID, true
	}

	if !r.exclude[target] && (group || Alive(target)) {
		detail := fmt.Sprintf("%s iteration %d", info.Phase, info.Iteration)
		r.kill(result, done, target, group, ReasonStalePIDFile, detail)
	}

	if err := RemovePIDFile(r.opts.PIDDir); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("remove pid file: %v", err))
	}
}

func (r *Reclaimer) killAll(result *SweepResult, done map[int]bool, pids []int, reason, detail string) {
	sort.Ints(pids)
	for _, pid := range pids {
		if r.exclude[pid] || done[pid] {
			continue
		}
		r.kill(result, done, pid, false, reason, detail)
	}
}

func (r *Reclaimer) kill(result *SweepResult, done map[int]bool, pid int, group bool, reason, detail string) {
	done[pid] = true

	forced, err := Terminate(pid, group, r.opts.GracePeriod)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("terminate %d: %v", pid, err))
		return
	}

	k := Kill{PID: pid, Reason: reason, Detail: detail, Forced: forced}
	result.Killed = append(result.Killed, k)

	r.opts.Logger.Warn("resource leak detected",
		"pid", pid,
		"reason", reason,
		"detail", detail,
		"forced", forced)

	if r.opts.OnKill != nil {
		r.opts.OnKill(k)
	}
}
