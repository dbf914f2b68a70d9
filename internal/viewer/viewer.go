// Package viewer composes page metrics, the wrapper cache, the render
// scheduler, the zoom controller and the layer renderer into a document
// view with an open/close lifecycle, navigation and save.
//
// A Viewer has one mutex that plays the role of an event loop: every state
// change, timer callback, drain step and render commit runs while holding
// it. Rasterization and content fetches run on their own goroutines.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/export"
	"github.com/jackzampolin/folio/internal/files"
	"github.com/jackzampolin/folio/internal/layers"
	"github.com/jackzampolin/folio/internal/layout"
	"github.com/jackzampolin/folio/internal/pages"
	"github.com/jackzampolin/folio/internal/render"
	"github.com/jackzampolin/folio/internal/timing"
	"github.com/jackzampolin/folio/internal/zoom"
)

var (
	// ErrOpenFailed wraps document open failures.
	ErrOpenFailed = errors.New("failed to open document")

	// ErrExportFailed wraps save and export failures.
	ErrExportFailed = errors.New("failed to export document")

	// ErrNotOpen is returned by operations that need an open document.
	ErrNotOpen = errors.New("no document open")

	// ErrBusy is returned when an open or save is already in progress.
	ErrBusy = errors.New("viewer busy")

	// ErrNotRendered is returned for pages without a canvas.
	ErrNotRendered = errors.New("page not rendered")
)

// State is the viewer lifecycle state.
type State string

const (
	StateClosed    State = "closed"
	StateOpening   State = "opening"
	StateViewing   State = "viewing"
	StateZooming   State = "zooming"
	StateScrolling State = "scrolling"
	StateEditMode  State = "edit_mode"
	StateSaving    State = "saving"
)

type phase int

const (
	phaseClosed phase = iota
	phaseOpening
	phaseOpen
)

// Source identifies where the open document came from.
type Source struct {
	// Data is the original document bytes used for export. When empty and
	// the document exposes Bytes(), those are used.
	Data   []byte
	Handle files.Handle
	Name   string
}

// OpenOptions controls Open.
type OpenOptions struct {
	// PreserveState keeps the scale, rotation and page of the previous
	// document, e.g. when reloading a file that changed on disk.
	PreserveState bool
	Source        Source
}

// Config configures a Viewer.
type Config struct {
	Options  Options
	Exporter *export.Exporter
	Saver    files.Saver
	Logger   *slog.Logger

	// Annotations and TextEdits are the export collaborators. Empty
	// in-memory sets are used when nil.
	Annotations export.Annotations
	TextEdits   export.TextEdits

	// OnSaved runs after a successful save, outside the viewer lock.
	OnSaved func(h files.Handle, data []byte)
}

// Viewer is a virtualized, zoomable document view.
type Viewer struct {
	mu sync.Mutex

	opts        Options
	logger      *slog.Logger
	exporter    *export.Exporter
	saver       files.Saver
	annotations export.Annotations
	textEdits   export.TextEdits
	onSaved     func(files.Handle, []byte)
	now         func() time.Time

	phase  phase
	doc    document.Document
	source Source

	metrics  *layout.Metrics
	registry *render.Registry
	cache    *pages.Cache
	sched    *render.Scheduler
	layers   *layers.Renderer
	zoom     *zoom.Controller
	settle   *timing.Debouncer

	clientWidth  float64
	clientHeight float64

	currentPage  int
	scrolling    bool
	saving       bool
	editPage     int
	baseRotation int // rotation already baked into source.Data

	failures int64
	quality  int64
	saves    int64
}

// New creates a closed viewer.
func New(cfg Config) *Viewer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Options.withDefaults()
	exporter := cfg.Exporter
	if exporter == nil {
		exporter = export.NewExporter(logger)
	}
	annotations := cfg.Annotations
	if annotations == nil {
		annotations = export.NewOverlaySet()
	}
	textEdits := cfg.TextEdits
	if textEdits == nil {
		textEdits = export.NewTextPatches()
	}
	return &Viewer{
		opts:         opts,
		logger:       logger.With("component", "viewer"),
		exporter:     exporter,
		saver:        cfg.Saver,
		annotations:  annotations,
		textEdits:    textEdits,
		onSaved:      cfg.OnSaved,
		now:          time.Now,
		clientWidth:  opts.ViewportWidth,
		clientHeight: opts.ViewportHeight,
	}
}

// Annotations returns the annotation collaborator.
func (v *Viewer) Annotations() export.Annotations {
	return v.annotations
}

// TextEdits returns the text-edit collaborator.
func (v *Viewer) TextEdits() export.TextEdits {
	return v.textEdits
}

// Options returns the effective tuning.
func (v *Viewer) Options() Options {
	return v.opts
}

// Open shows doc. The viewer takes ownership of doc and closes it on
// Close or when another document is opened. A document already open is
// replaced without auto-save.
func (v *Viewer) Open(ctx context.Context, doc document.Document, opts OpenOptions) error {
	if doc == nil {
		return fmt.Errorf("%w: no document", ErrOpenFailed)
	}

	v.mu.Lock()
	if v.phase == phaseOpening {
		v.mu.Unlock()
		return ErrBusy
	}
	prev := zoom.State{Scale: 1}
	prevPage := 1
	if v.phase == phaseOpen {
		prev = v.zoom.State()
		prevPage = v.currentPage
		old := v.detachLocked()
		v.phase = phaseOpening
		v.mu.Unlock()
		if err := old.finish(ctx); err != nil {
			v.logger.Warn("previous document did not close cleanly", "error", err)
		}
		v.mu.Lock()
	}
	v.phase = phaseOpening
	defer v.mu.Unlock()

	if !opts.PreserveState {
		prev = zoom.State{Scale: 1}
		prevPage = 1
		v.baseRotation = 0
	}

	metrics := layout.New()
	if err := metrics.Initialize(ctx, doc, prev.Rotation); err != nil {
		v.phase = phaseClosed
		_ = doc.Close()
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	source := opts.Source
	if len(source.Data) == 0 {
		if b, ok := doc.(interface{ Bytes() []byte }); ok {
			source.Data = b.Bytes()
		}
	}

	v.doc = doc
	v.source = source
	v.metrics = metrics
	v.buildLocked()

	v.zoom.Resize(v.clientWidth, v.clientHeight)
	v.zoom.Reset(prev)
	v.editPage = 0
	v.scrolling = false
	v.phase = phaseOpen

	if opts.PreserveState {
		v.scrollToPageLocked(prevPage)
	} else {
		v.currentPage = 1
		v.zoom.FitToPage()
	}
	v.sched.ResetVelocity()
	v.syncLocked(true)

	v.logger.Info("document opened",
		"pages", metrics.PageCount(),
		"scale", v.zoom.Scale(),
		"rotation", v.zoom.Rotation(),
		"preserve_state", opts.PreserveState)
	return nil
}

// buildLocked creates the per-document components.
func (v *Viewer) buildLocked() {
	h := &host{v: v}
	v.registry = render.NewRegistry(v.logger)
	v.cache = pages.NewCache(pages.CacheConfig{
		Metrics:  v.metrics,
		Registry: v.registry,
		Buffer:   v.opts.BufferPages,
		Logger:   v.logger,
	})
	v.sched = render.NewScheduler(render.SchedulerConfig{
		Host:               h,
		Locker:             &v.mu,
		Logger:             v.logger,
		FastScrollVelocity: v.opts.FastScrollVelocity,
		FastScrollQuiet:    v.opts.FastScrollQuiet,
	})
	v.layers = layers.New(layers.Config{
		Host:      h,
		Locker:    &v.mu,
		Logger:    v.logger,
		IdleSlice: v.opts.IdleSlice,
		Timeout:   v.opts.LayerIdleTimeout,
	})
	v.zoom = zoom.New(zoom.Config{
		Layout:          h,
		Locker:          &v.mu,
		Logger:          v.logger,
		MinZoom:         v.opts.MinZoom,
		MaxZoom:         v.opts.MaxZoom,
		ZoomStep:        v.opts.ZoomStep,
		QualityDebounce: v.opts.QualityDebounce,
		FitDebounce:     v.opts.FitDebounce,
		FitPadding:      v.opts.FitPadding,
		OnPresentation:  v.onPresentation,
		OnQuality:       v.onQuality,
		OnRotate:        v.onRotate,
	})
	v.settle = timing.NewDebouncer(&v.mu, v.opts.FastScrollQuiet, v.onScrollSettled)

	metrics := v.metrics
	metrics.OnChange(func() {
		// Runs synchronously from Update/Transpose, under the loop.
		if v.metrics != metrics {
			return
		}
		v.cache.Reposition()
		v.zoom.Refresh()
	})
}

// detached is what remains of a document after teardown: render
// goroutines still finishing and the decoder to close.
type detached struct {
	registry *render.Registry
	doc      document.Document
}

func (d detached) finish(ctx context.Context) error {
	var errs []error
	if d.registry != nil {
		if err := d.registry.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("render tasks still running: %w", err))
		}
	}
	if d.doc != nil {
		if err := d.doc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close document: %w", err))
		}
	}
	return errors.Join(errs...)
}

// detachLocked stops timers, cancels all work and unloads every wrapper.
func (v *Viewer) detachLocked() detached {
	v.zoom.Stop()
	v.settle.Cancel()
	v.sched.Close()
	v.layers.Close()
	v.cancelAllLocked()
	v.cache.UnloadAll()

	d := detached{registry: v.registry, doc: v.doc}
	v.phase = phaseClosed
	v.doc = nil
	v.editPage = 0
	v.scrolling = false
	return d
}

// Close tears the view down. With AutoSaveOnClose, pending changes are
// saved first; if that save fails the document stays open and the error
// is returned.
func (v *Viewer) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.phase != phaseOpen {
		v.mu.Unlock()
		return nil
	}
	autoSave := v.opts.AutoSaveOnClose && v.hasChangesLocked()
	v.mu.Unlock()

	if autoSave {
		v.logger.Info("auto-saving before close")
		if _, err := v.save(ctx, false); err != nil {
			return err
		}
	}

	v.mu.Lock()
	if v.phase != phaseOpen {
		v.mu.Unlock()
		return nil
	}
	d := v.detachLocked()
	v.mu.Unlock()

	err := d.finish(ctx)
	v.logger.Info("document closed")
	return err
}

// State returns the lifecycle state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *Viewer) stateLocked() State {
	switch {
	case v.phase == phaseClosed:
		return StateClosed
	case v.phase == phaseOpening:
		return StateOpening
	case v.saving:
		return StateSaving
	case v.editPage > 0:
		return StateEditMode
	case v.zoom.QualityPending():
		return StateZooming
	case v.scrolling || v.sched.FastScrolling():
		return StateScrolling
	default:
		return StateViewing
	}
}

// IsOpen reports whether a document is shown.
func (v *Viewer) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase == phaseOpen
}

// HasChanges reports whether annotations, text edits or rotation are
// unsaved.
func (v *Viewer) HasChanges() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase == phaseOpen && v.hasChangesLocked()
}

func (v *Viewer) hasChangesLocked() bool {
	return v.annotations.HasChanges() ||
		v.textEdits.HasChanges() ||
		document.NormalizeRotation(v.zoom.Rotation()-v.baseRotation) != 0
}

// WaitIdle blocks until no render, quality pass, scroll settle or layer
// build is pending.
func (v *Viewer) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if v.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Viewer) idle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.phase {
	case phaseClosed:
		return true
	case phaseOpening:
		return false
	}
	return !v.sched.Busy() &&
		v.registry.Active() == 0 &&
		!v.zoom.QualityPending() &&
		!v.settle.Pending() &&
		v.layers.InFlight() == 0
}

// ensureOpen returns ErrNotOpen unless a document is shown. Caller holds mu.
func (v *Viewer) ensureOpen() error {
	if v.phase != phaseOpen {
		return ErrNotOpen
	}
	return nil
}
