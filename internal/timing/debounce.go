// Package timing provides timers that fire their callbacks under a
// caller-supplied lock, so callbacks serialize with the rest of the
// owner's state changes.
package timing

import (
	"sync"
	"time"
)

// Debouncer runs fn once delay has passed without another Trigger.
//
// When locker is non-nil, fn runs while holding it. Trigger, Cancel and
// Flush may be called with locker held.
type Debouncer struct {
	locker sync.Locker
	fn     func()

	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64
	armed bool
}

// NewDebouncer creates a debouncer that calls fn under locker.
func NewDebouncer(locker sync.Locker, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{locker: locker, delay: delay, fn: fn}
}

// Trigger (re)starts the quiet window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.armed = true
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	if d.locker != nil {
		d.locker.Lock()
		defer d.locker.Unlock()
	}

	// A Trigger or Cancel that raced the timer wins.
	d.mu.Lock()
	if gen != d.gen || !d.armed {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Cancel stops a pending fire. It is a no-op when nothing is pending.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a fire is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Flush runs fn now if a fire is pending. The caller must hold locker.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return false
	}
	d.gen++
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fn()
	return true
}

// SetDelay changes the window used by later Triggers.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Delay returns the current window.
func (d *Debouncer) Delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}
