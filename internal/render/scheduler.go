package render

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/timing"
)

// Default scheduler tuning.
const (
	DefaultFastScrollVelocity = 2.5 // px/ms
	DefaultFastScrollQuiet    = 150 * time.Millisecond
)

// Host is the scheduler's view of the page cache. Every method is called
// with the scheduler's locker held.
type Host interface {
	// NeedsRender reports whether page has a wrapper that is unloaded, not
	// rendering and not failed.
	NeedsRender(page int) bool

	// StartRender begins rendering page and returns its task, or nil if
	// nothing was started.
	StartRender(page int) *Task

	// ViewportCenter returns the viewport's vertical center in base units.
	ViewportCenter() float64

	// PageCenter returns page's vertical center in base units.
	PageCenter(page int) float64

	// CancelAll cancels every in-flight render.
	CancelAll()

	// Resync re-derives the visible window and enqueues what it needs.
	Resync()
}

// State is the scheduler's queue state.
type State int

const (
	StateIdle State = iota
	StateQueuing
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueuing:
		return "queuing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Host   Host
	Locker sync.Locker
	Logger *slog.Logger

	FastScrollVelocity float64       // px/ms (default: 2.5)
	FastScrollQuiet    time.Duration // (default: 150ms)
}

// Scheduler drains pending page renders one at a time, nearest the
// viewport center first, and drops everything while the user scrolls fast.
//
// Every exported method must be called with Locker held.
type Scheduler struct {
	host   Host
	locker sync.Locker
	logger *slog.Logger

	threshold float64
	queue     *Queue
	state     State
	fast      bool
	draining  bool
	closed    bool

	velocity velocityTracker
	quiet    *timing.Debouncer
	stop     chan struct{}
}

// NewScheduler creates a scheduler for host.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FastScrollVelocity
	if threshold <= 0 {
		threshold = DefaultFastScrollVelocity
	}
	quiet := cfg.FastScrollQuiet
	if quiet <= 0 {
		quiet = DefaultFastScrollQuiet
	}

	s := &Scheduler{
		host:      cfg.Host,
		locker:    cfg.Locker,
		logger:    logger.With("component", "render_scheduler"),
		threshold: threshold,
		queue:     NewQueue(),
		stop:      make(chan struct{}),
	}
	s.quiet = timing.NewDebouncer(cfg.Locker, quiet, s.settle)
	return s
}

// Enqueue adds page if the host says it needs rendering. Pages are not
// queued while fast scrolling.
func (s *Scheduler) Enqueue(page int) bool {
	if s.closed || s.fast || !s.host.NeedsRender(page) {
		return false
	}
	if !s.queue.Push(page) {
		return false
	}
	if s.state == StateIdle {
		s.state = StateQueuing
	}
	return true
}

// Drain starts the drain goroutine unless one is running.
func (s *Scheduler) Drain() {
	if s.closed || s.draining || s.fast || s.queue.Len() == 0 {
		return
	}
	s.draining = true
	s.state = StateDraining
	go s.drainLoop()
}

func (s *Scheduler) drainLoop() {
	for {
		s.locker.Lock()
		if s.closed || s.fast || s.queue.Len() == 0 {
			s.draining = false
			if s.queue.Len() > 0 {
				s.state = StateQueuing
			} else {
				s.state = StateIdle
			}
			s.locker.Unlock()
			return
		}

		page := s.queue.PopNearest(s.host.ViewportCenter(), s.host.PageCenter)
		var task *Task
		if s.host.NeedsRender(page) {
			task = s.host.StartRender(page)
		}
		s.locker.Unlock()

		if task != nil {
			select {
			case <-task.Done():
			case <-task.Context().Done():
			case <-s.stop:
			}
		}
		runtime.Gosched()
	}
}

// OnScroll records a scroll position (in visual pixels) observed at now.
// Crossing the velocity threshold drops all render work until scrolling
// has been quiet for the configured window.
func (s *Scheduler) OnScroll(pos float64, now time.Time) {
	if s.closed {
		return
	}
	v := s.velocity.observe(pos, now)
	if v > s.threshold && !s.fast {
		s.fast = true
		s.queue.Clear()
		s.host.CancelAll()
		if !s.draining {
			s.state = StateIdle
		}
		s.logger.Debug("fast scroll detected", "velocity", v)
	}
	if s.fast {
		s.quiet.Trigger()
	}
}

// settle runs under the locker once scrolling has been quiet.
func (s *Scheduler) settle() {
	if s.closed || !s.fast {
		return
	}
	s.fast = false
	s.logger.Debug("fast scroll settled")
	s.host.Resync()
}

// Clear drops every pending page.
func (s *Scheduler) Clear() {
	s.queue.Clear()
	if !s.draining {
		s.state = StateIdle
	}
}

// Remove drops a single pending page.
func (s *Scheduler) Remove(page int) {
	s.queue.Remove(page)
}

// Pending returns the pending pages in ascending order.
func (s *Scheduler) Pending() []int {
	return s.queue.Pages()
}

// State returns the queue state.
func (s *Scheduler) State() State {
	return s.state
}

// FastScrolling reports whether rendering is suspended for a fast scroll.
func (s *Scheduler) FastScrolling() bool {
	return s.fast
}

// Busy reports whether render work is queued, draining or suspended.
func (s *Scheduler) Busy() bool {
	return s.draining || s.fast || s.queue.Len() > 0
}

// ResetVelocity forgets the last scroll sample, e.g. after a programmatic
// jump that should not count as user velocity.
func (s *Scheduler) ResetVelocity() {
	s.velocity.reset()
}

// Close stops the scheduler. A running drain exits after its current page.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.fast = false
	s.quiet.Cancel()
	s.queue.Clear()
	close(s.stop)
}

// velocityTracker measures scroll speed between consecutive samples.
type velocityTracker struct {
	pos float64
	at  time.Time
	ok  bool
}

// observe returns the speed in px/ms since the previous sample. Movement
// with no elapsed time counts as infinitely fast.
func (v *velocityTracker) observe(pos float64, now time.Time) float64 {
	defer func() {
		v.pos, v.at, v.ok = pos, now, true
	}()
	if !v.ok {
		return 0
	}
	delta := math.Abs(pos - v.pos)
	ms := float64(now.Sub(v.at)) / float64(time.Millisecond)
	if ms <= 0 {
		if delta == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return delta / ms
}

func (v *velocityTracker) reset() {
	v.ok = false
}
