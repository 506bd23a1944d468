package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"golang.org/x/term"
)

// OutputFormatter handles formatted console output with colors
type OutputFormatter struct {
	writer    io.Writer
	useColors bool
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// NewOutputFormatter creates a new OutputFormatter
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	return &OutputFormatter{
		writer:    w,
		useColors: colorsEnabled(w),
	}
}

func colorsEnabled(w io.Writer) bool {
	// Windows consoles only understand ANSI under Windows Terminal
	if runtime.GOOS == "windows" && os.Getenv("WT_SESSION") == "" {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Success prints a success message with green checkmark
func (o *OutputFormatter) Success(msg string) {
	o.mark(colorGreen, "✓", msg)
}

// Error prints an error message with red cross
func (o *OutputFormatter) Error(msg string) {
	o.mark(colorRed, "✗", msg)
}

// Warning prints a warning message with yellow warning sign
func (o *OutputFormatter) Warning(msg string) {
	o.mark(colorYellow, "⚠", msg)
}

// Info prints an info message
func (o *OutputFormatter) Info(msg string) {
	fmt.Fprintln(o.writer, msg)
}

func (o *OutputFormatter) mark(color, symbol, msg string) {
	if o.useColors {
		fmt.Fprintf(o.writer, "%s%s%s %s\n", color, symbol, colorReset, msg)
	} else {
		fmt.Fprintf(o.writer, "%s %s\n", symbol, msg)
	}
}

// IterationStart prints the banner for an iteration and its selected phases.
func (o *OutputFormatter) IterationStart(iteration int, phases []string) {
	fmt.Fprintf(o.writer, "%s %v\n", o.Bold(fmt.Sprintf("── iteration %d", iteration)), phases)
}

// PhaseResult prints the outcome of one supervised phase run. exitCode is nil
// when the worker was killed by a signal the supervisor did not send.
func (o *OutputFormatter) PhaseResult(phase, cause string, exitCode *int, elapsed time.Duration) {
	code := "signal"
	if exitCode != nil {
		code = fmt.Sprintf("%d", *exitCode)
	}
	msg := fmt.Sprintf("[%s] %s exit=%s (%s)", phase, cause, code, elapsed.Round(time.Second))

	switch {
	case cause != "NORMAL":
		o.Warning(msg)
	case exitCode != nil && *exitCode == 0:
		o.Success(msg)
	default:
		o.Error(msg)
	}
}

// HaltReport prints the circuit breaker halt summary.
func (o *OutputFormatter) HaltReport(noProgressCount, lastProgressIteration int) {
	o.Error(o.Bold("Circuit breaker OPEN: halting pipeline"))
	fmt.Fprintf(o.writer, "  consecutive iterations without progress: %d\n", noProgressCount)
	if lastProgressIteration > 0 {
		fmt.Fprintf(o.writer, "  last progress at iteration: %d\n", lastProgressIteration)
	} else {
		fmt.Fprintln(o.writer, "  last progress at iteration: none this run")
	}
}

// Bold returns the string wrapped in bold formatting
func (o *OutputFormatter) Bold(s string) string {
	if o.useColors {
		return colorBold + s + colorReset
	}
	return s
}

// Cyan returns the string wrapped in cyan formatting
func (o *OutputFormatter) Cyan(s string) string {
	if o.useColors {
		return colorCyan + s + colorReset
	}
	return s
}
