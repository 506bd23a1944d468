// Package errors provides centralized error types and exit codes for pipesup.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Exit codes for different error categories.
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitConfigError     = 2
	ExitValidationError = 3
	ExitGitError        = 4
	ExitNetworkError    = 5
	ExitNoProgress      = 6
	ExitInterrupted     = 130
)

// SupervisorError is the base error type for all pipesup-specific errors.
type SupervisorError struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message, including the cause if present.
func (e *SupervisorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error.
func (e *SupervisorError) Unwrap() error {
	return e.Cause
}

func newError(code int, msg string, cause error) *SupervisorError {
	return &SupervisorError{Code: code, Message: msg, Cause: cause}
}

// NewConfigError creates a new configuration error.
func NewConfigError(msg string) *SupervisorError {
	return newError(ExitConfigError, msg, nil)
}

// NewConfigErrorWithCause creates a new configuration error with an underlying cause.
func NewConfigErrorWithCause(msg string, cause error) *SupervisorError {
	return newError(ExitConfigError, msg, cause)
}

// NewValidationError creates a new validation error.
func NewValidationError(msg string) *SupervisorError {
	return newError(ExitValidationError, msg, nil)
}

// NewGitErrorWithCause creates a new git error with an underlying cause.
func NewGitErrorWithCause(msg string, cause error) *SupervisorError {
	return newError(ExitGitError, msg, cause)
}

// NewNetworkErrorWithCause creates a new network error with an underlying cause.
func NewNetworkErrorWithCause(msg string, cause error) *SupervisorError {
	return newError(ExitNetworkError, msg, cause)
}

// NewNoProgressError reports that the circuit breaker opened. It is the only
// error that is allowed to end a supervisor run.
func NewNoProgressError(noProgressCount, lastProgressIteration int) *SupervisorError {
	return newError(ExitNoProgress,
		fmt.Sprintf("no sustained progress: %d consecutive iterations without workspace changes (last progress at iteration %d)",
			noProgressCount, lastProgressIteration), nil)
}

// NewInterruptedError reports that the operator aborted the run mid-phase.
func NewInterruptedError(cause error) *SupervisorError {
	return newError(ExitInterrupted, "run aborted", cause)
}

// NewGeneralErrorWithCause creates a new general error with an underlying cause.
func NewGeneralErrorWithCause(msg string, cause error) *SupervisorError {
	return newError(ExitGeneralError, msg, cause)
}

func hasCode(err error, code int) bool {
	var se *SupervisorError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool { return hasCode(err, ExitConfigError) }

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool { return hasCode(err, ExitValidationError) }

// IsGitError checks if an error is a git error.
func IsGitError(err error) bool { return hasCode(err, ExitGitError) }

// IsNetworkError checks if an error is a network error.
func IsNetworkError(err error) bool { return hasCode(err, ExitNetworkError) }

// IsNoProgress checks if an error is the circuit breaker halt.
func IsNoProgress(err error) bool { return hasCode(err, ExitNoProgress) }

// IsInterrupted checks if an error is an operator abort.
func IsInterrupted(err error) bool { return hasCode(err, ExitInterrupted) }

// GetExitCode returns the exit code for an error.
// If the error is not a SupervisorError, it returns ExitGeneralError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var se *SupervisorError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ExitGeneralError
}
