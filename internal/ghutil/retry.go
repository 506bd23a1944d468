// Package ghutil runs gh and git network commands with retry on transient failures.
package ghutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"time"
)

// RetryConfig holds retry parameters for network-bound CLI calls.
type RetryConfig struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 2s
	MaxDelay    time.Duration // default 30s
	Dir         string        // working directory; empty = current
	Logger      *slog.Logger  // nil = slog.Default()
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before the next attempt, doubling from BaseDelay
// and capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// IsRetryable checks if a gh/git CLI error is worth retrying.
// It returns false for auth/validation errors and true for transient failures
// such as rate limits, network issues, and server errors.
func IsRetryable(output string, exitCode int) bool {
	nonRetryable := []string{
		"authentication", "auth", "login",
		"not found", "404",
		"422", "validation failed",
		"already exists",
		"non-fast-forward", "rejected",
	}
	lower := strings.ToLower(output)
	for _, s := range nonRetryable {
		if strings.Contains(lower, s) {
			return false
		}
	}

	retryable := []string{
		"rate limit", "rate_limit", "403",
		"500", "502", "503", "504",
		"timeout", "timed out",
		"connection refused", "connection reset",
		"no such host", "network",
		"eagain", "temporary failure",
		"could not resolve host",
	}
	for _, s := range retryable {
		if strings.Contains(lower, s) {
			return true
		}
	}

	// Also retry generic non-zero exit (could be transient)
	return exitCode != 0
}

// RunWithRetry executes a command with exponential backoff retry.
// It captures combined stdout+stderr output from the command.
// Non-retryable errors are returned immediately without further attempts.
func RunWithRetry(ctx context.Context, cfg RetryConfig, name string, args ...string) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	var lastOutput []byte

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = cfg.Dir
		output, err := cmd.CombinedOutput()
		if err == nil {
			return output, nil
		}

		lastErr = err
		lastOutput = output

		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		if !IsRetryable(string(output), exitCode) {
			return output, err
		}

		if attempt < cfg.MaxAttempts {
			delay := cfg.Delay(attempt)
			logger.Warn("command failed, retrying",
				"command", name,
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"delay", delay,
				"output", strings.TrimSpace(string(output)))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastOutput, ctx.Err()
			}
		}
	}

	return lastOutput, fmt.Errorf("%s command failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}
