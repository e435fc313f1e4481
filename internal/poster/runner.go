package poster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runner owns the goroutines that execute posting jobs in the
// background. Dispatch goes through here rather than ad-hoc go
// statements so shutdown can wait for in-flight runs and a panicking
// job cannot take the process down.
type Runner struct {
	baseCtx context.Context
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a job runner. Jobs inherit baseCtx, not the request
// context that triggered them, so an HTTP client disconnect does not
// abort a running batch.
func NewRunner(baseCtx context.Context) *Runner {
	return &Runner{baseCtx: baseCtx}
}

// Go dispatches fn on a tracked goroutine. It fails once the runner has
// begun shutting down.
func (r *Runner) Go(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("runner is shut down, not dispatching %s", name)
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Background job panicked", "job", name, "panic", rec)
			}
		}()
		fn(r.baseCtx)
	}()
	return nil
}

// Shutdown stops accepting new jobs and waits for in-flight ones until
// ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait for background jobs: %w", ctx.Err())
	}
}
