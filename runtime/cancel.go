package runtime

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/oranbench/gridrunner/log"
)

// CancellationHandler turns SIGINT/SIGTERM into context cancellation and
// guarantees the registered finalizer runs exactly once, whichever exit
// path is taken: signal, natural completion, or error return.
type CancellationHandler struct {
	logger *log.Logger
	cancel context.CancelFunc
	stop   context.CancelFunc

	mu        sync.Mutex
	finalizer func()
	done      bool
}

// NewCancellationHandler wraps parent with signal-driven cancellation.
func NewCancellationHandler(parent context.Context, logger *log.Logger) (context.Context, *CancellationHandler) {
	ctx, cancel := context.WithCancel(parent)
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

	h := &CancellationHandler{logger: logger, cancel: cancel, stop: stop}
	go func() {
		<-sigCtx.Done()
		if parent.Err() == nil && ctx.Err() == nil {
			logger.Warn("termination signal received, canceling run", map[string]any{})
		}
		cancel()
	}()
	return sigCtx, h
}

// OnExit registers the finalizer to run at Finish time. Typically the
// final cleanup sweep and journal/checkpoint close.
func (h *CancellationHandler) OnExit(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizer = fn
}

// Finish stops signal delivery and runs the finalizer. Safe to call from
// multiple exit paths; the finalizer runs once.
func (h *CancellationHandler) Finish() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	fn := h.finalizer
	h.mu.Unlock()

	h.stop()
	h.cancel()
	if fn != nil {
		fn()
	}
}

// Canceled reports whether the given context ended due to cancellation.
func Canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
