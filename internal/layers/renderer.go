// Package layers builds the text-selection and annotation overlays of
// rendered pages at idle time.
package layers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/pages"
)

// Default idle tuning.
const (
	DefaultIdleSlice = 50 * time.Millisecond
	DefaultTimeout   = time.Second
)

// Host exposes viewer state to the layer renderer. Methods are called with
// the renderer's locker held.
type Host interface {
	// Busy reports whether render work is in progress.
	Busy() bool

	// Wrapper returns the current wrapper for page.
	Wrapper(page int) (*pages.Wrapper, bool)

	// Rotation returns the current view rotation.
	Rotation() int
}

// Config configures a Renderer.
type Config struct {
	Host   Host
	Locker sync.Locker
	Logger *slog.Logger

	IdleSlice time.Duration // (default: 50ms)
	Timeout   time.Duration // forced run under load (default: 1s)
}

// Renderer schedules layer builds for rendered wrappers.
type Renderer struct {
	host   Host
	locker sync.Locker
	logger *slog.Logger

	idleSlice time.Duration
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Int32
	built    atomic.Int64
}

// New creates a renderer.
func New(cfg Config) *Renderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := cfg.IdleSlice
	if idle <= 0 {
		idle = DefaultIdleSlice
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Renderer{
		host:      cfg.Host,
		locker:    cfg.Locker,
		logger:    logger.With("component", "layers"),
		idleSlice: idle,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule queues a layer build for w. It must be called with the locker
// held. It reports false when w already has layers, is in edit mode or has
// no decoder page.
func (r *Renderer) Schedule(w *pages.Wrapper) bool {
	if r.ctx.Err() != nil || w.LayersLoaded || w.EditMode || w.Page == nil {
		return false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	w.SetLayerCancel(cancel)
	r.inFlight.Add(1)
	go r.run(ctx, w, w.Page, time.Now().Add(r.timeout))
	return true
}

// InFlight returns the number of scheduled or running builds.
func (r *Renderer) InFlight() int {
	return int(r.inFlight.Load())
}

// Built returns the number of layer sets attached so far.
func (r *Renderer) Built() int64 {
	return r.built.Load()
}

// Close cancels every pending build.
func (r *Renderer) Close() {
	r.cancel()
}

func (r *Renderer) run(ctx context.Context, w *pages.Wrapper, page document.Page, deadline time.Time) {
	defer r.inFlight.Add(-1)

	rotation, ok := r.waitIdle(ctx, w, deadline)
	if !ok {
		return
	}

	vp := page.Viewport(1, rotation)
	text, textErr := page.TextContent(ctx)
	annots, annotErr := page.Annotations(ctx)
	if ctx.Err() != nil {
		return
	}

	r.locker.Lock()
	defer r.locker.Unlock()

	if ctx.Err() != nil || !r.stillWanted(w, page) || rotation != r.host.Rotation() {
		return
	}

	if textErr != nil {
		r.logger.Warn("text content failed", "page", w.PageNumber, "error", textErr)
	}
	if annotErr != nil {
		r.logger.Warn("annotations failed", "page", w.PageNumber, "error", annotErr)
	}

	w.TextLayer = BuildTextLayer(vp, text)
	w.AnnotationLayer = BuildAnnotationLayer(vp, annots)
	w.LayersLoaded = true
	w.CancelLayers()
	r.built.Add(1)
	r.logger.Debug("layers attached", "page", w.PageNumber,
		"spans", len(w.TextLayer.Spans), "annotations", len(w.AnnotationLayer.Elements))
}

// waitIdle polls in idle slices until the host is not busy or the deadline
// passes. It returns the rotation to build for.
func (r *Renderer) waitIdle(ctx context.Context, w *pages.Wrapper, deadline time.Time) (int, bool) {
	ticker := time.NewTicker(r.idleSlice)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, false
		case <-ticker.C:
		}

		r.locker.Lock()
		if ctx.Err() != nil || !r.stillWanted(w, w.Page) {
			r.locker.Unlock()
			return 0, false
		}
		if !r.host.Busy() || !time.Now().Before(deadline) {
			rotation := r.host.Rotation()
			r.locker.Unlock()
			return rotation, true
		}
		r.locker.Unlock()
	}
}

// stillWanted checks that w is still the live wrapper for its page, holds
// page and needs layers. Caller holds the locker.
func (r *Renderer) stillWanted(w *pages.Wrapper, page document.Page) bool {
	current, ok := r.host.Wrapper(w.PageNumber)
	return ok && current == w && w.Page == page && page != nil && !w.EditMode && !w.LayersLoaded
}

// BuildTextLayer positions text runs in the base viewport.
func BuildTextLayer(vp document.Viewport, items []document.TextItem) *pages.TextLayer {
	layer := &pages.TextLayer{
		Width:  vp.Width,
		Height: vp.Height,
		Spans:  make([]pages.TextSpan, 0, len(items)),
	}
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		size := item.FontSize
		if size <= 0 {
			size = 1
		}
		r := vp.RectToViewport([4]float64{item.X, item.Y, item.X + item.W, item.Y + size})
		layer.Spans = append(layer.Spans, pages.TextSpan{
			Text:     item.Text,
			Left:     r[0],
			Top:      r[1],
			Width:    r[2] - r[0],
			Height:   r[3] - r[1],
			FontSize: size * vp.Scale,
			Font:     item.Font,
		})
	}
	return layer
}

// BuildAnnotationLayer positions link and widget hit areas in the base
// viewport.
func BuildAnnotationLayer(vp document.Viewport, annots []document.Annotation) *pages.AnnotationLayer {
	layer := &pages.AnnotationLayer{
		Width:    vp.Width,
		Height:   vp.Height,
		Elements: make([]pages.AnnotationElement, 0, len(annots)),
	}
	for _, a := range annots {
		if a.Kind != document.AnnotationLink && a.Kind != document.AnnotationWidget {
			continue
		}
		r := vp.RectToViewport(a.Rect)
		layer.Elements = append(layer.Elements, pages.AnnotationElement{
			Kind:     a.Kind,
			Left:     r[0],
			Top:      r[1],
			Width:    r[2] - r[0],
			Height:   r[3] - r[1],
			URI:      a.URI,
			DestPage: a.DestPage,
		})
	}
	return layer
}
