// Package workspace samples and publishes the changes workers make to the
// shared git workspace.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/silver2dream/pipesup/internal/config"
	pserrors "github.com/silver2dream/pipesup/internal/errors"
	"github.com/silver2dream/pipesup/internal/ghutil"
)

// Summary describes outstanding changes. It is diagnostic only; progress is
// decided by comparing snapshots.
type Summary struct {
	FilesChanged   int      `json:"files_changed"`
	LinesAdded     int      `json:"lines_added"`
	LinesRemoved   int      `json:"lines_removed"`
	UntrackedFiles int      `json:"untracked_files"`
	Files          []string `json:"files,omitempty"`
}

// PublishResult is the outcome of Publish.
type PublishResult struct {
	Committed bool
	Commit    string
	Pushed    bool
}

// Git is the workspace repository.
type Git struct {
	Dir     string
	Remote  string
	Push    bool
	Timeout time.Duration
	// Exclude lists paths, relative to Dir, that are neither sampled nor
	// published.
	Exclude []string

	retry  ghutil.RetryConfig
	logger *slog.Logger
}

// New creates a Git workspace rooted at dir. Paths under exclude belong to the
// supervisor and never count as worker changes.
func New(dir string, cfg config.SyncConfig, exclude []string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	retry := ghutil.DefaultRetryConfig()
	retry.Dir = dir
	retry.Logger = logger
	return &Git{
		Dir:     dir,
		Remote:  cfg.Remote,
		Push:    cfg.Push,
		Timeout: cfg.Timeout,
		Exclude: exclude,
		retry:   retry,
		logger:  logger,
	}
}

func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	return g.gitEnv(ctx, nil, args...)
}

func (g *Git) gitEnv(ctx context.Context, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.Dir}, args...)...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// pathspec limits a command to the workspace minus excluded paths.
func (g *Git) pathspec(args ...string) []string {
	args = append(args, "--", ".")
	for _, p := range g.Exclude {
		args = append(args, ":(exclude)"+p)
	}
	return args
}

// HasChanges reports whether the workspace has uncommitted changes, untracked
// files included.
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.git(ctx, g.pathspec("status", "--porcelain", "--untracked-files=all")...)
	if err != nil {
		return false, pserrors.NewGitErrorWithCause("failed to read workspace status", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Snapshot returns the tree hash of the working tree as it would be
// committed: tracked and untracked files, ignored and excluded paths left out.
// Two equal snapshots mean no file changed in between, whether or not anything
// was committed.
func (g *Git) Snapshot(ctx context.Context) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pipesup-index-")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot index: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	index := filepath.Join(tmpDir, "index")

	// Seeding from the real index lets git reuse its stat cache.
	if out, err := g.git(ctx, "rev-parse", "--git-path", "index"); err == nil {
		src := strings.TrimSpace(out)
		if !filepath.IsAbs(src) {
			src = filepath.Join(g.Dir, src)
		}
		if data, err := os.ReadFile(src); err == nil {
			if err := os.WriteFile(index, data, 0644); err != nil {
				return "", fmt.Errorf("failed to seed snapshot index: %w", err)
			}
		}
	}

	env := []string{"GIT_INDEX_FILE=" + index}
	if _, err := g.gitEnv(ctx, env, g.pathspec("add", "-A")...); err != nil {
		return "", pserrors.NewGitErrorWithCause("failed to snapshot workspace", err)
	}
	tree, err := g.gitEnv(ctx, env, "write-tree")
	if err != nil {
		return "", pserrors.NewGitErrorWithCause("failed to snapshot workspace", err)
	}
	return strings.TrimSpace(tree), nil
}

// DiffSummary summarizes tracked changes against HEAD plus untracked files.
func (g *Git) DiffSummary(ctx context.Context) (Summary, error) {
	var s Summary

	status, err := g.git(ctx, g.pathspec("status", "--porcelain", "--untracked-files=all")...)
	if err != nil {
		return s, pserrors.NewGitErrorWithCause("failed to read workspace status", err)
	}
	for _, line := range strings.Split(status, "\n") {
		if strings.HasPrefix(line, "??") {
			s.UntrackedFiles++
			s.Files = append(s.Files, strings.TrimSpace(line[2:]))
		}
	}

	patch, err := g.git(ctx, g.pathspec("diff", "HEAD", "--no-color", "--no-ext-diff")...)
	if err != nil {
		return s, pserrors.NewGitErrorWithCause("failed to diff workspace", err)
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return s, fmt.Errorf("failed to parse workspace diff: %w", err)
	}

	s.FilesChanged = len(fileDiffs) + s.UntrackedFiles
	for _, fd := range fileDiffs {
		s.Files = append(s.Files, strings.TrimPrefix(fd.NewName, "b/"))
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") {
					s.LinesAdded++
				} else if strings.HasPrefix(line, "-") {
					s.LinesRemoved++
				}
			}
		}
	}
	return s, nil
}

// Publish commits every outstanding change outside the excluded paths and,
// when configured, pushes it.
// A clean workspace is not an error: the result reports Committed false.
func (g *Git) Publish(ctx context.Context, message string) (PublishResult, error) {
	var result PublishResult

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	dirty, err := g.HasChanges(ctx)
	if err != nil {
		return result, err
	}
	if !dirty {
		return result, nil
	}

	if _, err := g.git(ctx, g.pathspec("add", "-A")...); err != nil {
		return result, pserrors.NewGitErrorWithCause("failed to stage changes", err)
	}

	if out, err := g.git(ctx, "commit", "-m", message); err != nil {
		// Ignored files can make status dirty with nothing staged.
		if strings.Contains(out, "nothing to commit") {
			return result, nil
		}
		return result, pserrors.NewGitErrorWithCause("failed to commit changes", err)
	}
	result.Committed = true

	if sha, err := g.git(ctx, "rev-parse", "HEAD"); err == nil {
		result.Commit = strings.TrimSpace(sha)
	}

	if !g.Push {
		return result, nil
	}

	if _, err := ghutil.RunWithRetry(ctx, g.retry, "git", "push", g.Remote, "HEAD"); err != nil {
		return result, pserrors.NewNetworkErrorWithCause("failed to push changes", err)
	}
	result.Pushed = true
	return result, nil
}

// RenderCommitMessage fills {{phase}} and {{iteration}} in tmpl.
func RenderCommitMessage(tmpl, phase string, iteration int) string {
	msg := strings.ReplaceAll(tmpl, "{{phase}}", phase)
	msg = strings.ReplaceAll(msg, "{{iteration}}", strconv.Itoa(iteration))
	if strings.TrimSpace(msg) == "" {
		msg = fmt.Sprintf("[chore] pipeline %s iteration %d", phase, iteration)
	}
	return msg
}
