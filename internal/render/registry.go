package render

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Func performs a render for task t. It must return promptly once ctx is
// cancelled and must publish results only through t.Commit.
type Func func(ctx context.Context, t *Task) error

// Registry maps page numbers to their live render task. At most one task
// per page is registered at any time.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[int]*Task
	wg    sync.WaitGroup

	started   atomic.Int64
	cancelled atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "render_registry"),
		tasks:  make(map[int]*Task),
	}
}

// Start cancels any task registered for page, then runs fn on its own
// goroutine as the page's new task.
func (r *Registry) Start(page int, scale float64, fn Func) *Task {
	r.Cancel(page)

	t := newTask(context.Background(), page, scale)
	r.mu.Lock()
	r.tasks[page] = t
	r.mu.Unlock()
	r.started.Add(1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := fn(t.ctx, t)
		t.finish(err)
		r.remove(t)
		if err != nil && !IsCancelled(err) {
			r.logger.Debug("render task failed", "page", page, "task", t.ID, "error", err)
		}
	}()
	return t
}

// remove drops t if it is still the registered task for its page.
func (r *Registry) remove(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[t.Page] == t {
		delete(r.tasks, t.Page)
	}
}

// Cancel cancels and unregisters the task for page, if any.
func (r *Registry) Cancel(page int) bool {
	r.mu.Lock()
	t := r.tasks[page]
	delete(r.tasks, page)
	r.mu.Unlock()

	if t == nil {
		return false
	}
	t.Cancel()
	r.cancelled.Add(1)
	return true
}

// CancelAll cancels and unregisters every task. It returns the pages whose
// tasks were cancelled, in ascending order.
func (r *Registry) CancelAll() []int {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[int]*Task)
	r.mu.Unlock()

	pages := make([]int, 0, len(tasks))
	for page, t := range tasks {
		t.Cancel()
		pages = append(pages, page)
	}
	r.cancelled.Add(int64(len(tasks)))
	sort.Ints(pages)
	return pages
}

// Get returns the task registered for page.
func (r *Registry) Get(page int) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[page]
	return t, ok
}

// Active returns the number of registered tasks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Stats reports registry counters.
type Stats struct {
	Active    int   `json:"active"`
	Started   int64 `json:"started"`
	Cancelled int64 `json:"cancelled"`
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:    r.Active(),
		Started:   r.started.Load(),
		Cancelled: r.cancelled.Load(),
	}
}

// Wait blocks until every task goroutine has exited or ctx is done.
// Callers must not hold any lock that a task's commit needs.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout is Wait with a deadline.
func (r *Registry) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.Wait(ctx)
}
