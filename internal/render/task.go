// Package render owns the render task lifecycle: a per-page registry of
// cancellable rasterizations and the center-biased scheduler that feeds it.
package render

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrCancelled is reported by a task that was cancelled before it could
// commit its result.
var ErrCancelled = errors.New("render cancelled")

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Task is one in-flight rasterization of a page.
type Task struct {
	ID    string
	Page  int
	Scale float64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	err       error
}

func newTask(parent context.Context, page int, scale float64) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		ID:     uuid.New().String(),
		Page:   page,
		Scale:  scale,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is cancelled when the task is.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Cancel flags the task and cancels its context. After Cancel returns no
// Commit of this task will run.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Commit runs fn unless the task was cancelled, and reports whether it ran.
// Cancel blocks while fn runs.
func (t *Task) Commit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	fn()
	return true
}

// Done is closed when the task's function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result once Done is closed. A cancelled task
// reports ErrCancelled.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	if t.cancelled {
		err = ErrCancelled
	}
	t.err = err
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
