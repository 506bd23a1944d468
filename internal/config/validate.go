package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field    string
	Message  string
	Expected string
}

func (e ValidationError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: %s (expected: %s)", e.Field, e.Message, e.Expected)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for missing or out-of-range values
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:    "log.level",
			Message:  fmt.Sprintf("invalid value: %s", c.Log.Level),
			Expected: "debug, info, warn, or error",
		})
	}

	if c.Loop.Backoff < 0 {
		errors = append(errors, ValidationError{
			Field:   "loop.backoff",
			Message: "must not be negative",
		})
	}
	if c.Loop.MaxIterations < 0 {
		errors = append(errors, ValidationError{
			Field:    "loop.max_iterations",
			Message:  "must not be negative",
			Expected: "0 for unlimited",
		})
	}

	if c.Supervisor.RuntimeBudget <= 0 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.runtime_budget",
			Message: "must be positive",
		})
	}
	if c.Supervisor.GracePeriod < 0 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.grace_period",
			Message: "must not be negative",
		})
	}

	if c.Heartbeat.PollInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "heartbeat.poll_interval",
			Message: "must be positive",
		})
	}
	if c.Heartbeat.MaxStaleness <= 0 {
		errors = append(errors, ValidationError{
			Field:   "heartbeat.max_staleness",
			Message: "must be positive",
		})
	}

	if c.Breaker.WarningThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.warning_threshold",
			Message: "must be at least 1",
		})
	}
	if c.Breaker.StopThreshold <= c.Breaker.WarningThreshold {
		errors = append(errors, ValidationError{
			Field:    "breaker.stop_threshold",
			Message:  fmt.Sprintf("invalid value: %d", c.Breaker.StopThreshold),
			Expected: "greater than breaker.warning_threshold",
		})
	}

	if c.Scheduler.StrategistEvery < 1 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.strategist_every",
			Message: "must be at least 1",
		})
	}

	switch c.Queue.Kind {
	case "github":
		if c.Queue.PendingVerificationLabel == "" {
			errors = append(errors, ValidationError{
				Field:   "queue.pending_verification_label",
				Message: "required field is missing",
			})
		}
		if c.Queue.OpenLabel == "" {
			errors = append(errors, ValidationError{
				Field:   "queue.open_label",
				Message: "required field is missing",
			})
		}
	case "static":
	default:
		errors = append(errors, ValidationError{
			Field:    "queue.kind",
			Message:  fmt.Sprintf("invalid value: %s", c.Queue.Kind),
			Expected: "github or static",
		})
	}

	if c.Sync.Push && c.Sync.Remote == "" {
		errors = append(errors, ValidationError{
			Field:   "sync.remote",
			Message: "required when sync.push is enabled",
		})
	}
	if strings.TrimSpace(c.Sync.CommitMessage) == "" {
		errors = append(errors, ValidationError{
			Field:   "sync.commit_message",
			Message: "required field is missing",
		})
	}

	for i, port := range c.Reclaim.Ports {
		if port <= 0 || port > 65535 {
			errors = append(errors, ValidationError{
				Field:    fmt.Sprintf("reclaim.ports[%d]", i),
				Message:  fmt.Sprintf("invalid value: %d", port),
				Expected: "1-65535",
			})
		}
	}

	for _, name := range []string{"implementer", "verifier", "strategist"} {
		if strings.TrimSpace(c.Phases.Command(name)) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("phases.%s.command", name),
				Message: "required field is missing",
			})
		}
	}

	return errors
}
