package viewer

import (
	"context"
	"errors"
	"math"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/layers"
	"github.com/jackzampolin/folio/internal/pages"
	"github.com/jackzampolin/folio/internal/render"
	"github.com/jackzampolin/folio/internal/zoom"
)

// host adapts the viewer to the scheduler, the layer renderer and the zoom
// controller. Every method runs with v.mu held.
type host struct {
	v *Viewer
}

var (
	_ render.Host = (*host)(nil)
	_ layers.Host = (*host)(nil)
	_ zoom.Layout = (*host)(nil)
)

func (h *host) NeedsRender(page int) bool {
	w, ok := h.v.cache.Get(page)
	return ok && w.NeedsRender()
}

func (h *host) StartRender(page int) *render.Task {
	return h.v.startRenderLocked(page)
}

func (h *host) ViewportCenter() float64 {
	top, bottom := h.v.visibleSpanLocked()
	return (top + bottom) / 2
}

func (h *host) PageCenter(page int) float64 {
	return h.v.metrics.Center(page)
}

func (h *host) CancelAll() {
	h.v.cancelAllLocked()
}

func (h *host) Resync() {
	h.v.syncLocked(true)
}

func (h *host) Busy() bool {
	return h.v.sched.Busy() || h.v.registry.Active() > 0
}

func (h *host) Wrapper(page int) (*pages.Wrapper, bool) {
	return h.v.cache.Get(page)
}

func (h *host) Rotation() int {
	return h.v.zoom.Rotation()
}

func (h *host) ContentSize() (float64, float64) {
	return h.v.metrics.MaxWidth(), h.v.metrics.TotalHeight()
}

func (h *host) CurrentPageSize() (float64, float64) {
	page := h.v.currentPage
	if page < 1 {
		page = 1
	}
	e, ok := h.v.metrics.Entry(page)
	if !ok {
		return 0, 0
	}
	return e.BaseWidth, e.BaseHeight
}

// visibleSpanLocked returns the base-scale vertical span of the viewport.
func (v *Viewer) visibleSpanLocked() (top, bottom float64) {
	s := v.zoom.Surface()
	scale := v.zoom.Scale()
	top = math.Max(0, (s.ScrollTop-s.MarginTop)/scale)
	bottom = top + s.ClientHeight/scale
	return top, bottom
}

// visibleRangeLocked returns the pages intersecting the viewport.
func (v *Viewer) visibleRangeLocked() (start, end int) {
	top, bottom := v.visibleSpanLocked()
	if bottom > top {
		// A viewport ending exactly on a page boundary does not show the
		// next page.
		bottom = math.Nextafter(bottom, top)
	}
	return v.metrics.Range(top, bottom)
}

// currentPageLocked is the page under the viewport center.
func (v *Viewer) currentPageLocked() int {
	top, bottom := v.visibleSpanLocked()
	return v.metrics.PageAt((top + bottom) / 2)
}

// syncLocked materializes the wrappers around the visible range. With
// enqueue, every wrapper in range that needs a canvas is queued and the
// drain is started.
func (v *Viewer) syncLocked(enqueue bool) {
	start, end := v.visibleRangeLocked()
	v.cache.Sync(start, end)
	if v.editPage > 0 {
		if w, ok := v.cache.Get(v.editPage); ok {
			w.EditMode = true
		}
	}
	if !enqueue || v.sched.FastScrolling() {
		return
	}
	for _, page := range v.cache.Pages() {
		v.sched.Enqueue(page)
	}
	v.sched.Drain()
}

// cancelAllLocked cancels every render task and clears the pending queue.
func (v *Viewer) cancelAllLocked() {
	for _, page := range v.registry.CancelAll() {
		if w, ok := v.cache.Get(page); ok {
			w.Rendering = false
		}
	}
	v.sched.Clear()
}

// targetScaleLocked is the effective scale a canvas of w should have now:
// the visual scale times the device pixel ratio, capped so the bitmap stays
// under MaxCanvasPixels.
func (v *Viewer) targetScaleLocked(w *pages.Wrapper) float64 {
	scale := v.zoom.Scale() * v.opts.DevicePixelRatio
	area := w.Width * w.Height
	if area > 0 && area*scale*scale > float64(v.opts.MaxCanvasPixels) {
		scale = math.Sqrt(float64(v.opts.MaxCanvasPixels) / area)
	}
	return scale
}

func (v *Viewer) startRenderLocked(page int) *render.Task {
	w, ok := v.cache.Get(page)
	if !ok || !w.NeedsRender() {
		return nil
	}
	scale := v.targetScaleLocked(w)
	rotation := v.zoom.Rotation()
	w.Rendering = true
	return v.registry.Start(page, scale, v.renderFunc(w, v.doc, scale, rotation))
}

// renderFunc rasterizes w's page. Every write to the wrapper happens under
// the loop through t.Commit, so a cancelled task never touches it.
func (v *Viewer) renderFunc(w *pages.Wrapper, doc document.Document, scale float64, rotation int) render.Func {
	return func(ctx context.Context, t *render.Task) error {
		page, err := v.acquirePage(ctx, t, w, doc)
		if err != nil {
			return err
		}

		img, err := page.Render(ctx, page.Viewport(scale, rotation))
		if err != nil {
			if ctx.Err() != nil || render.IsCancelled(err) {
				return render.ErrCancelled
			}
			v.fail(t, w, err)
			return err
		}

		canvas := render.NewCanvas(img, scale, rotation)
		base := page.Viewport(1, rotation)

		v.mu.Lock()
		defer v.mu.Unlock()
		committed := false
		t.Commit(func() {
			if !v.currentLocked(w) || rotation != v.zoom.Rotation() {
				return
			}
			w.SetCanvas(canvas)
			w.Loaded = true
			w.Rendering = false
			w.RenderScale = scale
			w.Failed = nil
			committed = true

			v.metrics.Update(w.PageNumber, base.Width, base.Height)
			v.layers.Schedule(w)
		})
		if !committed {
			canvas.Release()
			return render.ErrCancelled
		}
		v.logger.Debug("page rendered", "page", w.PageNumber, "scale", scale, "task", t.ID)
		return nil
	}
}

// acquirePage returns the wrapper's decoder page, fetching it on first
// use. A page fetched for a task that was cancelled meanwhile is released
// right away.
func (v *Viewer) acquirePage(ctx context.Context, t *render.Task, w *pages.Wrapper, doc document.Document) (document.Page, error) {
	v.mu.Lock()
	page := w.Page
	v.mu.Unlock()
	if page != nil {
		return page, nil
	}

	page, err := doc.Page(ctx, w.PageNumber)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, document.ErrClosed) {
			return nil, render.ErrCancelled
		}
		v.fail(t, w, err)
		return nil, err
	}

	v.mu.Lock()
	attached := false
	t.Commit(func() {
		if v.currentLocked(w) && w.Page == nil {
			w.Page = page
			attached = true
		}
	})
	current := w.Page
	v.mu.Unlock()

	if !attached {
		page.Cleanup()
		if current == nil || t.Cancelled() {
			return nil, render.ErrCancelled
		}
		return current, nil
	}
	return page, nil
}

// fail marks w failed unless the task was cancelled. Failed wrappers stay
// unloaded and are not queued again until recreated.
func (v *Viewer) fail(t *render.Task, w *pages.Wrapper, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t.Commit(func() {
		if !v.currentLocked(w) {
			return
		}
		w.Rendering = false
		w.Failed = err
		v.failures++
		v.logger.Warn("page render failed", "page", w.PageNumber, "error", err)
	})
}

// currentLocked reports whether w is still the cache's wrapper for its page.
func (v *Viewer) currentLocked(w *pages.Wrapper) bool {
	if v.phase != phaseOpen {
		return false
	}
	current, ok := v.cache.Get(w.PageNumber)
	return ok && current == w
}

// onPresentation runs right after a scale change: renders at the stale
// scale are dropped and the wrapper window follows the new geometry.
// Canvases already shown stay until the quality pass.
func (v *Viewer) onPresentation(prev, next zoom.State) {
	if v.phase != phaseOpen {
		return
	}
	v.cancelAllLocked()
	v.syncLocked(false)
}

// onQuality runs once zooming has been quiet.
func (v *Viewer) onQuality(zoom.State) {
	if v.phase != phaseOpen {
		return
	}
	v.qualityCheckLocked()
}

// qualityCheckLocked re-renders materialized pages, buffer included, whose
// canvas scale deviates from the target by more than the threshold, then
// resumes normal rendering. It returns the number of canvases marked stale.
func (v *Viewer) qualityCheckLocked() int {
	v.syncLocked(false)
	stale := 0
	for _, page := range v.cache.Pages() {
		w, ok := v.cache.Get(page)
		if !ok || !w.Loaded || w.Rendering {
			continue
		}
		target := v.targetScaleLocked(w)
		if target <= 0 || math.Abs(w.RenderScale-target)/target <= v.opts.QualityThreshold {
			continue
		}
		// The stale canvas stays visible until its replacement commits.
		w.Loaded = false
		stale++
	}
	if stale > 0 {
		v.quality += int64(stale)
		v.logger.Debug("quality re-render", "pages", stale, "scale", v.zoom.Scale())
	}
	v.syncLocked(true)
	return stale
}

// QualityCheck runs the quality pass now and returns the number of pages
// scheduled for re-render.
func (v *Viewer) QualityCheck() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureOpen(); err != nil {
		return 0, err
	}
	return v.qualityCheckLocked(), nil
}

// onRotate invalidates geometry and every canvas; the rotated pages are
// rendered from scratch.
func (v *Viewer) onRotate(prev, next zoom.State) {
	if v.phase != phaseOpen {
		return
	}
	if document.NormalizeRotation(next.Rotation-prev.Rotation)%180 != 0 {
		v.metrics.Transpose()
	}
	v.cancelAllLocked()
	v.cache.UnloadAll()
}
