// Package async runs detached tasks whose failures have no caller left to
// receive them. Such failures are routed to one process-wide error handler,
// normally the triage sink.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/errsink/pkg/errchain"
)

// ErrClosed is returned by Go after Shutdown
var ErrClosed = errors.New("runtime is shut down")

// Handler receives errors that no task caller can observe
type Handler func(err error)

// Task is a unit of detached work. The context is canceled on Shutdown.
type Task func(ctx context.Context) error

// Options configures a Runtime
type Options struct {
	// MaxConcurrency caps running tasks; Go blocks while the cap is reached.
	// Zero or less means unlimited.
	MaxConcurrency int
}

// Runtime owns a group of detached tasks and the handler their errors
// are delivered to
type Runtime struct {
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	handler atomic.Pointer[Handler]

	// mu is held from the closed check until the task is added to group,
	// so Shutdown never waits on a group that is still growing
	mu     sync.Mutex
	closed atomic.Bool
}

// New creates a runtime with the default handler installed
func New(opts Options) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{ctx: ctx, cancel: cancel}
	if opts.MaxConcurrency > 0 {
		r.group.SetLimit(opts.MaxConcurrency)
	}
	return r
}

// SetErrorHandler installs h as the global error handler. The last call
// wins; nil restores the default handler, which logs through slog.
func (r *Runtime) SetErrorHandler(h Handler) {
	if h == nil {
		r.handler.Store(nil)
		return
	}
	r.handler.Store(&h)
}

// OnError delivers err to the installed handler. Errors that are already
// undeliverable, and errors that signal a defect in calling code, are
// passed as they are; anything else is wrapped in one delivery envelope.
// A panic raised by the handler is not recovered.
func (r *Runtime) OnError(err error) {
	if err == nil {
		return
	}
	if !isUndeliverable(err) && !isBug(err) {
		err = errchain.Undeliverable(err)
	}

	if h := r.handler.Load(); h != nil {
		(*h)(err)
		return
	}
	defaultHandler(err)
}

// Go starts task in its own goroutine. A returned error or a panic is
// delivered through OnError. Go blocks while MaxConcurrency tasks run.
func (r *Runtime) Go(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}
	r.group.Go(func() error {
		if err := runSafely(r.ctx, task); err != nil {
			r.OnError(err)
		}
		return nil
	})
	return nil
}

// Wait blocks until every started task has returned
func (r *Runtime) Wait() {
	_ = r.group.Wait()
}

// Shutdown stops accepting tasks, cancels the task context and waits for
// running tasks until ctx is done
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.closed.Store(true)
	r.cancel()

	done := make(chan struct{})
	go func() {
		// A Go call that passed the closed check still holds mu
		r.mu.Lock()
		r.mu.Unlock()
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runSafely runs task and converts a panic into an error. Only the task is
// guarded; delivery of the error happens outside.
func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errchain.FromPanic(v)
		}
	}()
	return task(ctx)
}

func isUndeliverable(err error) bool {
	_, ok := err.(*errchain.UndeliverableError)
	return ok
}

// isBug reports errors that point at a programming mistake
func isBug(err error) bool {
	switch errchain.KindOf(err) {
	case errchain.KindOnErrorNotImplemented,
		errchain.KindMissingBackpressure,
		errchain.KindInvalidState,
		errchain.KindNullReference,
		errchain.KindInvalidArgument,
		errchain.KindComposite:
		return true
	}
	return false
}

func defaultHandler(err error) {
	cause := err
	if isUndeliverable(err) && errors.Unwrap(err) != nil {
		cause = errors.Unwrap(err)
	}
	slog.Default().Error("undeliverable error",
		"error", err.Error(),
		"error_kind", string(errchain.KindOf(cause)),
	)
}
