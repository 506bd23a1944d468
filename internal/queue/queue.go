// Package queue answers the two queue-depth questions the phase scheduler asks.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/silver2dream/pipesup/internal/config"
	"github.com/silver2dream/pipesup/internal/ghutil"
)

// Source reports queue depths.
type Source interface {
	PendingVerificationCount(ctx context.Context) (int, error)
	OpenItemCount(ctx context.Context) (int, error)
}

// New builds the Source selected by cfg.Kind.
func New(cfg config.QueueConfig, workDir string, logger *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case "github":
		q := NewGitHubQueue(cfg.Repo, cfg.PendingVerificationLabel, cfg.OpenLabel, logger)
		q.retry.Dir = workDir
		return q, nil
	case "static":
		return NewStaticQueue(cfg.StaticPending, cfg.StaticOpen), nil
	default:
		return nil, fmt.Errorf("unknown queue kind: %s", cfg.Kind)
	}
}

// runFunc runs gh with args and returns its output.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// GitHubQueue counts open issues by label through the gh CLI.
type GitHubQueue struct {
	Repo         string
	PendingLabel string
	OpenLabel    string
	Timeout      time.Duration

	retry ghutil.RetryConfig
	run   runFunc
}

// NewGitHubQueue creates a GitHubQueue. An empty repo uses the repository of
// the working directory.
func NewGitHubQueue(repo, pendingLabel, openLabel string, logger *slog.Logger) *GitHubQueue {
	q := &GitHubQueue{
		Repo:         repo,
		PendingLabel: pendingLabel,
		OpenLabel:    openLabel,
		Timeout:      30 * time.Second,
		retry:        ghutil.DefaultRetryConfig(),
	}
	q.retry.Logger = logger
	q.run = func(ctx context.Context, args ...string) ([]byte, error) {
		return ghutil.RunWithRetry(ctx, q.retry, "gh", args...)
	}
	return q
}

// PendingVerificationCount counts open issues awaiting verification.
func (q *GitHubQueue) PendingVerificationCount(ctx context.Context) (int, error) {
	return q.countOpen(ctx, q.PendingLabel)
}

// OpenItemCount counts open work items.
func (q *GitHubQueue) OpenItemCount(ctx context.Context) (int, error) {
	return q.countOpen(ctx, q.OpenLabel)
}

func (q *GitHubQueue) countOpen(ctx context.Context, label string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	args := []string{"issue", "list",
		"--label", label,
		"--state", "open",
		"--limit", "1000",
		"--json", "number",
		"--jq", ". | length"}
	if q.Repo != "" {
		args = append(args, "--repo", q.Repo)
	}

	output, err := q.run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("gh issue list --label %s: %w", label, err)
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, fmt.Errorf("unexpected gh output %q: %w", strings.TrimSpace(string(output)), err)
	}
	return count, nil
}

// StaticQueue returns fixed counts. It backs offline runs and tests.
type StaticQueue struct {
	pending atomic.Int64
	open    atomic.Int64
}

// NewStaticQueue creates a StaticQueue.
func NewStaticQueue(pending, open int) *StaticQueue {
	q := &StaticQueue{}
	q.Set(pending, open)
	return q
}

// Set replaces both counts.
func (q *StaticQueue) Set(pending, open int) {
	q.pending.Store(int64(pending))
	q.open.Store(int64(open))
}

// PendingVerificationCount returns the configured pending count.
func (q *StaticQueue) PendingVerificationCount(context.Context) (int, error) {
	return int(q.pending.Load()), nil
}

// OpenItemCount returns the configured open count.
func (q *StaticQueue) OpenItemCount(context.Context) (int, error) {
	return int(q.open.Load()), nil
}
