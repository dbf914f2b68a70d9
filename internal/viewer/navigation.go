package viewer

import (
	"fmt"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/zoom"
)

// Scroll records a user scroll to (top, left) in visual pixels.
func (v *Viewer) Scroll(top, left float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.zoom.SetScroll(top, left)
	v.scrolledLocked()
	return nil
}

// scrolledLocked feeds the scroll position to the scheduler's velocity
// tracker and updates the wrapper window. The current page is recomputed
// once scrolling settles.
func (v *Viewer) scrolledLocked() {
	v.sched.OnScroll(v.zoom.Surface().ScrollTop, v.now())
	v.syncLocked(true)
	v.scrolling = true
	v.settle.Trigger()
}

func (v *Viewer) onScrollSettled() {
	if v.phase != phaseOpen {
		return
	}
	v.scrolling = false
	v.currentPage = v.currentPageLocked()
}

// ScrollToPage scrolls page n (clamped to the document) to the top of the
// viewport.
func (v *Viewer) ScrollToPage(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.scrollToPageLocked(n)
	return nil
}

func (v *Viewer) scrollToPageLocked(n int) {
	count := v.metrics.PageCount()
	if n < 1 {
		n = 1
	}
	if n > count {
		n = count
	}
	s := v.zoom.Surface()
	v.zoom.SetScroll(v.metrics.Top(n)*v.zoom.Scale()+s.MarginTop, s.ScrollLeft)
	v.currentPage = n
	v.scrolledLocked()
}

// NextPage scrolls to the page after the current one.
func (v *Viewer) NextPage() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.scrollToPageLocked(v.currentPage + 1)
	return nil
}

// PrevPage scrolls to the page before the current one.
func (v *Viewer) PrevPage() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.scrollToPageLocked(v.currentPage - 1)
	return nil
}

// CurrentPage returns the page indicator, or 0 when closed.
func (v *Viewer) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase != phaseOpen {
		return 0
	}
	return v.currentPage
}

// PageCount returns the number of pages, or 0 when closed.
func (v *Viewer) PageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase != phaseOpen {
		return 0
	}
	return v.metrics.PageCount()
}

// Resize sets the viewport size in visual pixels. The size is kept for
// documents opened later.
func (v *Viewer) Resize(width, height float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport size %gx%g", width, height)
	}
	v.clientWidth, v.clientHeight = width, height
	if v.phase != phaseOpen {
		return nil
	}
	v.zoom.Resize(width, height)
	v.syncLocked(true)
	return nil
}

// zoomOp runs a zoom controller operation under the loop.
func (v *Viewer) zoomOp(fn func(z *zoom.Controller) bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return false, err
	}
	return fn(v.zoom), nil
}

// SetZoom zooms around the viewport center.
func (v *Viewer) SetZoom(scale float64) (bool, error) {
	return v.zoomOp(func(z *zoom.Controller) bool { return z.SetZoom(scale, nil) })
}

// ZoomAt zooms keeping the content under the viewport anchor (x, y) fixed.
func (v *Viewer) ZoomAt(scale, x, y float64) (bool, error) {
	return v.zoomOp(func(z *zoom.Controller) bool {
		focus := z.FocusAt(x, y)
		return z.SetZoom(scale, &focus)
	})
}

// ZoomIn zooms in one step.
func (v *Viewer) ZoomIn() (bool, error) {
	return v.zoomOp((*zoom.Controller).ZoomIn)
}

// ZoomOut zooms out one step.
func (v *Viewer) ZoomOut() (bool, error) {
	return v.zoomOp((*zoom.Controller).ZoomOut)
}

// Wheel applies a wheel zoom at the pointer position.
func (v *Viewer) Wheel(deltaY, x, y float64) (bool, error) {
	return v.zoomOp(func(z *zoom.Controller) bool { return z.Wheel(deltaY, x, y) })
}

// Pinch applies a pinch gesture around its midpoint.
func (v *Viewer) Pinch(ratio, x, y float64) (bool, error) {
	return v.zoomOp(func(z *zoom.Controller) bool { return z.Pinch(ratio, x, y) })
}

// FitToWidth fits the current page's width and keeps fitting on resize.
func (v *Viewer) FitToWidth() (bool, error) {
	return v.zoomOp((*zoom.Controller).FitToWidth)
}

// FitToPage fits the whole current page and keeps fitting on resize.
func (v *Viewer) FitToPage() (bool, error) {
	return v.zoomOp((*zoom.Controller).FitToPage)
}

// Rotate turns the view 90 degrees clockwise and re-renders every page,
// keeping the current page in view.
func (v *Viewer) Rotate() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.zoom.Rotate()
	v.afterRotateLocked()
	return nil
}

// SetRotation sets an absolute view rotation.
func (v *Viewer) SetRotation(rotation int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	if rotation%90 != 0 {
		return fmt.Errorf("rotation must be a multiple of 90, got %d", rotation)
	}
	if v.zoom.SetRotation(rotation) {
		v.afterRotateLocked()
	}
	return nil
}

func (v *Viewer) afterRotateLocked() {
	// A re-layout jump is not user velocity.
	v.sched.ResetVelocity()
	v.scrollToPageLocked(v.currentPage)
	v.sched.ResetVelocity()
}

// EnterEditMode hands page n to the text-edit overlay. Its extended
// layers are dropped and not rebuilt until ExitEditMode.
func (v *Viewer) EnterEditMode(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	if n < 1 || n > v.metrics.PageCount() {
		return fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, v.metrics.PageCount())
	}
	if v.editPage > 0 && v.editPage != n {
		v.exitEditModeLocked()
	}
	v.editPage = n
	if w, ok := v.cache.Get(n); ok {
		w.EditMode = true
		w.StripLayers()
	}
	v.logger.Debug("edit mode entered", "page", n)
	return nil
}

// ExitEditMode leaves text-edit mode and rebuilds the page's layers.
func (v *Viewer) ExitEditMode() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.exitEditModeLocked()
	return nil
}

func (v *Viewer) exitEditModeLocked() {
	if v.editPage == 0 {
		return
	}
	if w, ok := v.cache.Get(v.editPage); ok {
		w.EditMode = false
		if w.Loaded {
			v.layers.Schedule(w)
		}
	}
	v.logger.Debug("edit mode exited", "page", v.editPage)
	v.editPage = 0
}
