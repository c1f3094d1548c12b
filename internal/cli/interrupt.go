// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns the first interrupt signal into a context
// cancellation plus a friendly note about how to resume the run.
type InterruptHandler struct {
	writer      io.Writer
	resumeHint  string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a handler that writes its messages to writer
// (stderr when nil). A non-empty resumeHint is echoed so the operator knows
// the exact command that picks the run back up.
func NewInterruptHandler(writer io.Writer, resumeHint string) *InterruptHandler {
	if writer == nil {
		writer = os.Stderr
	}
	return &InterruptHandler{
		writer:     writer,
		resumeHint: resumeHint,
	}
}

// Watch returns a child context that is canceled when SIGINT or SIGTERM
// arrives. The first signal also prints the interrupt notice; the run keeps
// control so it can checkpoint before exiting.
func (h *InterruptHandler) Watch(ctx context.Context) context.Context {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	return h.watch(ctx, sigChan)
}

// watch is the signal-source-agnostic core, split out so tests can feed
// signals without raising them process-wide.
func (h *InterruptHandler) watch(ctx context.Context, signals <-chan os.Signal) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		select {
		case <-signals:
			h.noteInterrupt()
		case <-ctx.Done():
		}
	}()

	return ctx
}

// noteInterrupt records the interrupt and prints the notice exactly once.
func (h *InterruptHandler) noteInterrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interrupted {
		return
	}
	h.interrupted = true

	msg := "\n" + FormatWarning("Interrupted! Finishing in-flight requests and saving progress...")
	if h.resumeHint != "" {
		msg += "\n" + FormatInfo("Resume by rerunning: "+h.resumeHint)
	}

	if _, err := fmt.Fprintln(h.writer, msg); err != nil {
		// Best effort - we're shutting down anyway
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted reports whether an interrupt signal arrived.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
