// Package layout tracks base-scale page geometry: each page's width and
// height at zoom 1.0 and its cumulative vertical offset.
package layout

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackzampolin/folio/internal/document"
)

// Entry is the base-scale geometry of one page.
type Entry struct {
	BaseWidth  float64 `json:"base_width"`
	BaseHeight float64 `json:"base_height"`
	TopOffset  float64 `json:"top_offset"`
	Measured   bool    `json:"measured"`
}

// Metrics holds page geometry for a document. Page numbers are 1-indexed.
//
// Metrics is not tied to any goroutine; the viewer serializes access
// through its own lock. The internal mutex only protects listener
// registration and reads from API handlers.
type Metrics struct {
	mu        sync.RWMutex
	entries   []Entry
	listeners []func()
}

// New creates empty metrics.
func New() *Metrics {
	return &Metrics{}
}

// Initialize seeds every page with page 1's viewport at scale 1 and the
// given rotation, then computes offsets. Page 1 is marked measured.
func (m *Metrics) Initialize(ctx context.Context, doc document.Document, rotation int) error {
	count := doc.PageCount()
	if count < 1 {
		return fmt.Errorf("document has no pages")
	}

	first, err := doc.Page(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to read first page: %w", err)
	}
	vp := first.Viewport(1, rotation)
	first.Cleanup()

	m.Reset(count, vp.Width, vp.Height)
	m.mu.Lock()
	m.entries[0].Measured = true
	m.mu.Unlock()
	return nil
}

// Reset sets count pages to a uniform size without notifying listeners.
func (m *Metrics) Reset(count int, width, height float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make([]Entry, count)
	for i := range m.entries {
		m.entries[i].BaseWidth = width
		m.entries[i].BaseHeight = height
	}
	m.recompute()
}

// recompute rebuilds the prefix sums. Caller holds mu.
func (m *Metrics) recompute() {
	top := 0.0
	for i := range m.entries {
		m.entries[i].TopOffset = top
		top += m.entries[i].BaseHeight
	}
}

// OnChange registers fn to run after any Update that changed geometry.
func (m *Metrics) OnChange(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Update records the true base size of page n. It returns false when the
// page is out of range or already has that size. On change, offsets are
// recomputed and listeners notified.
func (m *Metrics) Update(n int, width, height float64) bool {
	m.mu.Lock()
	if n < 1 || n > len(m.entries) {
		m.mu.Unlock()
		return false
	}
	e := &m.entries[n-1]
	e.Measured = true
	if e.BaseWidth == width && e.BaseHeight == height {
		m.mu.Unlock()
		return false
	}
	e.BaseWidth = width
	e.BaseHeight = height
	m.recompute()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// Transpose swaps width and height of every page, as a quarter-turn
// rotation does, then recomputes offsets and notifies listeners.
func (m *Metrics) Transpose() {
	m.mu.Lock()
	for i := range m.entries {
		e := &m.entries[i]
		e.BaseWidth, e.BaseHeight = e.BaseHeight, e.BaseWidth
	}
	m.recompute()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// PageCount returns the number of pages tracked.
func (m *Metrics) PageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PageAt returns the page containing base-scale position pos, clamped to
// [1, PageCount]. It returns 0 when no pages are tracked.
func (m *Metrics) PageAt(pos float64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.entries)
	if n == 0 {
		return 0
	}
	// First page whose top is beyond pos, minus one.
	i := sort.Search(n, func(i int) bool {
		return m.entries[i].TopOffset > pos
	})
	if i == 0 {
		return 1
	}
	return i
}

// Range returns the pages intersecting the base-scale interval [top, bottom].
func (m *Metrics) Range(top, bottom float64) (start, end int) {
	if bottom < top {
		top, bottom = bottom, top
	}
	return m.PageAt(top), m.PageAt(bottom)
}

// Entry returns the geometry of page n.
func (m *Metrics) Entry(n int) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 1 || n > len(m.entries) {
		return Entry{}, false
	}
	return m.entries[n-1], true
}

// Entries returns a copy of every entry in page order.
func (m *Metrics) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

// Top returns the base-scale offset of page n.
func (m *Metrics) Top(n int) float64 {
	e, _ := m.Entry(n)
	return e.TopOffset
}

// Width returns the base width of page n.
func (m *Metrics) Width(n int) float64 {
	e, _ := m.Entry(n)
	return e.BaseWidth
}

// Height returns the base height of page n.
func (m *Metrics) Height(n int) float64 {
	e, _ := m.Entry(n)
	return e.BaseHeight
}

// Center returns the base-scale vertical center of page n.
func (m *Metrics) Center(n int) float64 {
	e, _ := m.Entry(n)
	return e.TopOffset + e.BaseHeight/2
}

// TotalHeight returns the summed base height of all pages.
func (m *Metrics) TotalHeight() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return 0
	}
	last := m.entries[len(m.entries)-1]
	return last.TopOffset + last.BaseHeight
}

// MaxWidth returns the widest base width.
func (m *Metrics) MaxWidth() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := 0.0
	for _, e := range m.entries {
		if e.BaseWidth > w {
			w = e.BaseWidth
		}
	}
	return w
}
