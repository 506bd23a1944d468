package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/silver2dream/pipesup/internal/logging"
)

var (
	// ErrStopRequested is the cause of the stop context: finish the in-flight
	// phase, then exit.
	ErrStopRequested = errors.New("stop requested")
	// ErrAborted is the cause of the abort context: terminate the in-flight
	// phase now.
	ErrAborted = errors.New("aborted by operator")
)

// Handler turns operator requests into two contexts. The first request
// cancels the stop context; a second signal also cancels the abort context.
// Every request writes the control flag false.
type Handler struct {
	store  *Store
	logger *slog.Logger
	output *logging.OutputFormatter

	stopCtx     context.Context
	cancelStop  context.CancelCauseFunc
	abortCtx    context.Context
	cancelAbort context.CancelCauseFunc

	mu      sync.Mutex
	signals int
}

// NewHandler derives the stop and abort contexts from parent. Cancelling
// parent aborts.
func NewHandler(parent context.Context, store *Store, logger *slog.Logger, output *logging.OutputFormatter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	abortCtx, cancelAbort := context.WithCancelCause(parent)
	stopCtx, cancelStop := context.WithCancelCause(abortCtx)
	return &Handler{
		store:       store,
		logger:      logger,
		output:      output,
		stopCtx:     stopCtx,
		cancelStop:  cancelStop,
		abortCtx:    abortCtx,
		cancelAbort: cancelAbort,
	}
}

// StopContext is done once a stop has been requested.
func (h *Handler) StopContext() context.Context {
	return h.stopCtx
}

// AbortContext is done once the in-flight phase must be terminated.
func (h *Handler) AbortContext() context.Context {
	return h.abortCtx
}

// RequestStop asks the loop to exit after the in-flight phase.
func (h *Handler) RequestStop(reason string) {
	if err := h.store.Set(false, reason); err != nil {
		h.logger.Warn("failed to write control flag", "error", err)
	}
	h.logger.Info("stop requested", "reason", reason)
	h.cancelStop(ErrStopRequested)
}

// Handle reacts to one operator signal.
func (h *Handler) Handle(sig os.Signal) {
	h.mu.Lock()
	h.signals++
	n := h.signals
	h.mu.Unlock()

	if n == 1 {
		if h.output != nil {
			h.output.Warning(fmt.Sprintf("Received %v: stopping after the current phase (repeat to abort)", sig))
		}
		h.RequestStop("signal: " + sig.String())
		return
	}

	if h.output != nil {
		h.output.Error(fmt.Sprintf("Received %v again: terminating the current phase", sig))
	}
	h.logger.Warn("abort requested", "signal", sig.String())
	h.cancelAbort(ErrAborted)
}

// Listen routes SIGINT and SIGTERM to Handle until the returned release
// function is called.
func (h *Handler) Listen() (release func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigChan:
				h.Handle(sig)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
			h.cancelStop(nil)
			h.cancelAbort(nil)
		})
	}
}
