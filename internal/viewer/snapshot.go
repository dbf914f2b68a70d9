package viewer

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/pages"
	"github.com/jackzampolin/folio/internal/render"
	"github.com/jackzampolin/folio/internal/zoom"
)

// PageInfo is the state of one materialized wrapper.
type PageInfo struct {
	Page         int     `json:"page"`
	Loaded       bool    `json:"loaded"`
	Rendering    bool    `json:"rendering"`
	RenderScale  float64 `json:"render_scale,omitempty"`
	LayersLoaded bool    `json:"layers_loaded"`
	EditMode     bool    `json:"edit_mode,omitempty"`
	Top          float64 `json:"top"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Failed       string  `json:"failed,omitempty"`
}

// Snapshot is a read-only view of the viewer.
type Snapshot struct {
	State       State        `json:"state"`
	Source      string       `json:"source,omitempty"`
	PageCount   int          `json:"page_count"`
	CurrentPage int          `json:"current_page"`
	Zoom        zoom.State   `json:"zoom"`
	Percent     int          `json:"percent"`
	FitMode     zoom.FitMode `json:"fit_mode,omitempty"`
	Surface     zoom.Surface `json:"surface"`
	TotalHeight float64      `json:"total_height"`

	VisibleStart int `json:"visible_start"`
	VisibleEnd   int `json:"visible_end"`

	Scheduler     string `json:"scheduler"`
	FastScrolling bool   `json:"fast_scrolling"`
	Pending       []int  `json:"pending,omitempty"`
	HasChanges    bool   `json:"has_changes"`
	EditPage      int    `json:"edit_page,omitempty"`

	Wrappers []PageInfo `json:"wrappers"`

	Renders          render.Stats     `json:"renders"`
	Cache            pages.CacheStats `json:"cache"`
	LayersBuilt      int64            `json:"layers_built"`
	Failures         int64            `json:"failures"`
	QualityRerenders int64            `json:"quality_rerenders"`
	Saves            int64            `json:"saves"`
}

// Snapshot captures the current state.
func (v *Viewer) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := Snapshot{State: v.stateLocked(), Saves: v.saves}
	if v.phase != phaseOpen {
		return snap
	}

	snap.Source = v.source.Name
	if snap.Source == "" {
		snap.Source = v.source.Handle.Path
	}
	snap.PageCount = v.metrics.PageCount()
	snap.CurrentPage = v.currentPage
	snap.Zoom = v.zoom.State()
	snap.Percent = v.zoom.Percent()
	snap.FitMode = v.zoom.FitMode()
	snap.Surface = v.zoom.Surface()
	snap.TotalHeight = v.metrics.TotalHeight()
	snap.VisibleStart, snap.VisibleEnd = v.visibleRangeLocked()
	snap.Scheduler = v.sched.State().String()
	snap.FastScrolling = v.sched.FastScrolling()
	snap.Pending = v.sched.Pending()
	snap.HasChanges = v.hasChangesLocked()
	snap.EditPage = v.editPage
	snap.Renders = v.registry.Stats()
	snap.Cache = v.cache.Stats()
	snap.LayersBuilt = v.layers.Built()
	snap.Failures = v.failures
	snap.QualityRerenders = v.quality

	v.cache.Each(func(w *pages.Wrapper) {
		info := PageInfo{
			Page:         w.PageNumber,
			Loaded:       w.Loaded,
			Rendering:    w.Rendering,
			RenderScale:  w.RenderScale,
			LayersLoaded: w.LayersLoaded,
			EditMode:     w.EditMode,
			Top:          w.Top,
			Width:        w.Width,
			Height:       w.Height,
		}
		if w.Failed != nil {
			info.Failed = w.Failed.Error()
		}
		snap.Wrappers = append(snap.Wrappers, info)
	})
	return snap
}

// PageImage returns a copy of page n's current canvas and its effective
// scale.
func (v *Viewer) PageImage(n int) (*image.RGBA, float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, err := v.wrapperLocked(n)
	if err != nil {
		return nil, 0, err
	}
	if !w.Visible() {
		return nil, 0, fmt.Errorf("%w: page %d", ErrNotRendered, n)
	}
	src := w.Canvas.Image
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst, w.Canvas.Scale, nil
}

// PageLayers returns page n's text and annotation layers. Both are nil
// until the layers were built.
func (v *Viewer) PageLayers(n int) (*pages.TextLayer, *pages.AnnotationLayer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, err := v.wrapperLocked(n)
	if err != nil {
		return nil, nil, err
	}
	if !w.LayersLoaded {
		return nil, nil, nil
	}
	return w.TextLayer, w.AnnotationLayer, nil
}

func (v *Viewer) wrapperLocked(n int) (*pages.Wrapper, error) {
	if err := v.ensureOpen(); err != nil {
		return nil, err
	}
	if n < 1 || n > v.metrics.PageCount() {
		return nil, fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, v.metrics.PageCount())
	}
	w, ok := v.cache.Get(n)
	if !ok {
		return nil, fmt.Errorf("%w: page %d is not materialized", ErrNotRendered, n)
	}
	return w, nil
}
