package reclaim

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Finder locates processes that hold resources the pipeline owns.
type Finder interface {
	// ByPattern returns PIDs whose full command line matches pattern.
	ByPattern(ctx context.Context, pattern string) ([]int, error)
	// ByPort returns PIDs listening on or holding tcp port.
	ByPort(ctx context.Context, port int) ([]int, error)
}

// CommandFinder implements Finder with pgrep and lsof.
type CommandFinder struct{}

// ByPattern runs pgrep -f.
func (CommandFinder) ByPattern(ctx context.Context, pattern string) ([]int, error) {
	return runPIDList(ctx, "pgrep", "-f", pattern)
}

// ByPort runs lsof -ti tcp:<port>.
func (CommandFinder) ByPort(ctx context.Context, port int) ([]int, error) {
	return runPIDList(ctx, "lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port))
}

// runPIDList runs a PID-listing tool. Both pgrep and lsof exit 1 with no
// output when nothing matches.
func runPIDList(ctx context.Context, name string, args ...string) ([]int, error) {
	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(strings.TrimSpace(string(output))) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return parsePIDs(string(output)), nil
}

func parsePIDs(output string) []int {
	var pids []int
	seen := make(map[int]bool)
	for _, field := range strings.Fields(output) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}
