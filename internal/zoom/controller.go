// Package zoom owns the visual zoom level and rotation of a document view
// and the scroll surface they are presented on.
//
// Zoom is applied as a single scale transform over base-scale layout.
// A scale change updates the transform and surface immediately and
// schedules a debounced quality pass; it never relayouts pages.
package zoom

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/timing"
)

// Default tuning.
const (
	DefaultMinZoom         = 0.2
	DefaultMaxZoom         = 5.0
	DefaultZoomStep        = 1.1
	DefaultQualityDebounce = 300 * time.Millisecond
	DefaultFitDebounce     = 150 * time.Millisecond
	DefaultFitPadding      = 40.0
)

// State is the zoom record shared (read-only) with the rest of the viewer.
type State struct {
	Scale    float64 `json:"scale"`
	Rotation int     `json:"rotation"`
}

// FitMode is the sticky fit behaviour re-applied on resize.
type FitMode string

const (
	FitNone  FitMode = ""
	FitWidth FitMode = "width"
	FitPage  FitMode = "page"
)

// Surface is the scroll container the page stack is presented in.
// All values are in visual pixels.
type Surface struct {
	ScrollTop     float64 `json:"scroll_top"`
	ScrollLeft    float64 `json:"scroll_left"`
	ClientWidth   float64 `json:"client_width"`
	ClientHeight  float64 `json:"client_height"`
	ContentWidth  float64 `json:"content_width"`
	ContentHeight float64 `json:"content_height"`
	MarginTop     float64 `json:"margin_top"`
	MarginLeft    float64 `json:"margin_left"`
	Transform     float64 `json:"transform"`
}

// ScrollHeight is the total scrollable height including centering margins.
func (s Surface) ScrollHeight() float64 {
	return s.ContentHeight + 2*s.MarginTop
}

// ScrollWidth is the total scrollable width including centering margins.
func (s Surface) ScrollWidth() float64 {
	return s.ContentWidth + 2*s.MarginLeft
}

// MaxScrollTop is the largest valid ScrollTop.
func (s Surface) MaxScrollTop() float64 {
	return math.Max(0, s.ScrollHeight()-s.ClientHeight)
}

// MaxScrollLeft is the largest valid ScrollLeft.
func (s Surface) MaxScrollLeft() float64 {
	return math.Max(0, s.ScrollWidth()-s.ClientWidth)
}

// Layout supplies base-scale geometry to the controller.
type Layout interface {
	// ContentSize is the base-scale size of the whole page stack.
	ContentSize() (width, height float64)

	// CurrentPageSize is the base-scale size of the page used for fitting.
	CurrentPageSize() (width, height float64)
}

// Focus pins a content point under a viewport anchor during a zoom.
type Focus struct {
	// BaseX, BaseY is the content point in base units.
	BaseX, BaseY float64
	// AnchorX, AnchorY is its position relative to the viewport, in pixels.
	AnchorX, AnchorY float64
}

// Config configures a Controller.
type Config struct {
	Layout Layout
	Locker sync.Locker
	Logger *slog.Logger

	MinZoom         float64
	MaxZoom         float64
	ZoomStep        float64
	QualityDebounce time.Duration
	FitDebounce     time.Duration
	FitPadding      float64

	// OnPresentation runs synchronously after a scale change is applied.
	OnPresentation func(prev, next State)
	// OnQuality runs once scale changes have been quiet for QualityDebounce.
	OnQuality func(State)
	// OnRotate runs after the rotation advanced; the layout must reflect the
	// new rotation when it returns.
	OnRotate func(prev, next State)
}

// Controller is the single writer of zoom state and surface transform.
// Its methods must be called with Config.Locker held.
type Controller struct {
	layout Layout
	logger *slog.Logger

	minZoom    float64
	maxZoom    float64
	step       float64
	fitPadding float64

	state   State
	surface Surface
	fit     FitMode

	onPresentation func(prev, next State)
	onQuality      func(State)
	onRotate       func(prev, next State)

	quality *timing.Debouncer
	refit   *timing.Debouncer
}

// New creates a controller at scale 1.0, rotation 0.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		layout:         cfg.Layout,
		logger:         logger.With("component", "zoom"),
		minZoom:        orDefault(cfg.MinZoom, DefaultMinZoom),
		maxZoom:        orDefault(cfg.MaxZoom, DefaultMaxZoom),
		step:           orDefault(cfg.ZoomStep, DefaultZoomStep),
		fitPadding:     cfg.FitPadding,
		state:          State{Scale: 1},
		onPresentation: cfg.OnPresentation,
		onQuality:      cfg.OnQuality,
		onRotate:       cfg.OnRotate,
	}
	if c.fitPadding < 0 {
		c.fitPadding = 0
	}
	if c.maxZoom < c.minZoom {
		c.maxZoom = c.minZoom
	}
	qualityDelay := cfg.QualityDebounce
	if qualityDelay <= 0 {
		qualityDelay = DefaultQualityDebounce
	}
	fitDelay := cfg.FitDebounce
	if fitDelay <= 0 {
		fitDelay = DefaultFitDebounce
	}
	c.quality = timing.NewDebouncer(cfg.Locker, qualityDelay, c.fireQuality)
	c.refit = timing.NewDebouncer(cfg.Locker, fitDelay, c.fireRefit)
	c.surface.Transform = c.state.Scale
	return c
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// State returns the current zoom state.
func (c *Controller) State() State { return c.state }

// Scale returns the current visual scale.
func (c *Controller) Scale() float64 { return c.state.Scale }

// Rotation returns the current rotation.
func (c *Controller) Rotation() int { return c.state.Rotation }

// Surface returns the scroll surface.
func (c *Controller) Surface() Surface { return c.surface }

// FitMode returns the sticky fit mode.
func (c *Controller) FitMode() FitMode { return c.fit }

// Bounds returns the allowed scale range.
func (c *Controller) Bounds() (min, max float64) { return c.minZoom, c.maxZoom }

// Percent is the scale rounded for display.
func (c *Controller) Percent() int {
	return int(math.Round(c.state.Scale * 100))
}

// Clamp limits scale to the allowed range.
func (c *Controller) Clamp(scale float64) float64 {
	if math.IsNaN(scale) {
		return c.state.Scale
	}
	return math.Min(c.maxZoom, math.Max(c.minZoom, scale))
}

// Reset restores scale and rotation without callbacks, e.g. when a
// document is opened. Pending debounces are dropped.
func (c *Controller) Reset(state State) {
	c.quality.Cancel()
	c.refit.Cancel()
	c.fit = FitNone
	c.state = State{
		Scale:    c.Clamp(state.Scale),
		Rotation: document.NormalizeRotation(state.Rotation),
	}
	c.surface.ScrollTop = 0
	c.surface.ScrollLeft = 0
	c.relayout()
}

// SetZoom is a user zoom: it clears any sticky fit mode.
func (c *Controller) SetZoom(scale float64, focus *Focus) bool {
	c.fit = FitNone
	return c.apply(scale, focus)
}

// apply sets the scale, keeping focus (or the viewport center) stationary.
func (c *Controller) apply(scale float64, focus *Focus) bool {
	scale = c.Clamp(scale)
	prev := c.state
	if scale == prev.Scale && focus == nil {
		return false
	}

	f := c.centerFocus()
	if focus != nil {
		f = *focus
	}

	c.state.Scale = scale
	c.relayout()

	c.surface.ScrollTop = f.BaseY*scale - f.AnchorY + c.surface.MarginTop
	c.surface.ScrollLeft = f.BaseX*scale - f.AnchorX + c.surface.MarginLeft
	c.clampScroll()

	if scale == prev.Scale {
		return false
	}

	c.logger.Debug("zoom applied", "from", prev.Scale, "to", scale)
	if c.onPresentation != nil {
		c.onPresentation(prev, c.state)
	}
	c.quality.Trigger()
	return true
}

// centerFocus pins the content point at the viewport center.
func (c *Controller) centerFocus() Focus {
	s := c.surface
	scale := c.state.Scale
	ax, ay := s.ClientWidth/2, s.ClientHeight/2
	return Focus{
		BaseX:   (s.ScrollLeft + ax - s.MarginLeft) / scale,
		BaseY:   (s.ScrollTop + ay - s.MarginTop) / scale,
		AnchorX: ax,
		AnchorY: ay,
	}
}

// FocusAt returns the focus for a viewport anchor at the current scale.
func (c *Controller) FocusAt(anchorX, anchorY float64) Focus {
	s := c.surface
	scale := c.state.Scale
	return Focus{
		BaseX:   (s.ScrollLeft + anchorX - s.MarginLeft) / scale,
		BaseY:   (s.ScrollTop + anchorY - s.MarginTop) / scale,
		AnchorX: anchorX,
		AnchorY: anchorY,
	}
}

// relayout recomputes the content visual size and centering margins from
// the layout at the current scale.
func (c *Controller) relayout() {
	w, h := 0.0, 0.0
	if c.layout != nil {
		w, h = c.layout.ContentSize()
	}
	s := &c.surface
	s.Transform = c.state.Scale
	s.ContentWidth = w * c.state.Scale
	s.ContentHeight = h * c.state.Scale
	s.MarginLeft = math.Max(0, (s.ClientWidth-s.ContentWidth)/2)
	s.MarginTop = math.Max(0, (s.ClientHeight-s.ContentHeight)/2)
}

func (c *Controller) clampScroll() {
	s := &c.surface
	s.ScrollTop = math.Min(s.MaxScrollTop(), math.Max(0, s.ScrollTop))
	s.ScrollLeft = math.Min(s.MaxScrollLeft(), math.Max(0, s.ScrollLeft))
}

// Refresh re-reads the layout and clamps scroll, e.g. after page sizes
// changed.
func (c *Controller) Refresh() {
	c.relayout()
	c.clampScroll()
}

// SetScroll records a user scroll, clamped to the surface.
func (c *Controller) SetScroll(top, left float64) {
	c.surface.ScrollTop = top
	c.surface.ScrollLeft = left
	c.clampScroll()
}

// ZoomIn multiplies the scale by the zoom step around the viewport center.
func (c *Controller) ZoomIn() bool {
	return c.SetZoom(c.state.Scale*c.step, nil)
}

// ZoomOut divides the scale by the zoom step around the viewport center.
func (c *Controller) ZoomOut() bool {
	return c.SetZoom(c.state.Scale/c.step, nil)
}

// Wheel zooms by one step per event around the pointer position.
// Negative deltaY zooms in.
func (c *Controller) Wheel(deltaY, anchorX, anchorY float64) bool {
	if deltaY == 0 {
		return false
	}
	factor := c.step
	if deltaY > 0 {
		factor = 1 / c.step
	}
	focus := c.FocusAt(anchorX, anchorY)
	return c.SetZoom(c.state.Scale*factor, &focus)
}

// Pinch scales by ratio around the gesture midpoint.
func (c *Controller) Pinch(ratio, anchorX, anchorY float64) bool {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return false
	}
	focus := c.FocusAt(anchorX, anchorY)
	return c.SetZoom(c.state.Scale*ratio, &focus)
}

// FitToWidth scales the current page to the available width and makes
// width fitting sticky.
func (c *Controller) FitToWidth() bool {
	c.fit = FitWidth
	return c.applyFit()
}

// FitToPage scales the current page to fit entirely and makes page
// fitting sticky.
func (c *Controller) FitToPage() bool {
	c.fit = FitPage
	return c.applyFit()
}

// FitScale computes the scale for mode without applying it.
func (c *Controller) FitScale(mode FitMode) (float64, bool) {
	if c.layout == nil || mode == FitNone {
		return 0, false
	}
	pw, ph := c.layout.CurrentPageSize()
	if pw <= 0 || ph <= 0 {
		return 0, false
	}
	availW := c.surface.ClientWidth - c.fitPadding
	availH := c.surface.ClientHeight - c.fitPadding
	if availW <= 0 || (mode == FitPage && availH <= 0) {
		return 0, false
	}

	scale := availW / pw
	if mode == FitPage {
		scale = math.Min(scale, availH/ph)
	}
	return c.Clamp(math.Round(scale*10) / 10), true
}

func (c *Controller) applyFit() bool {
	scale, ok := c.FitScale(c.fit)
	if !ok {
		return false
	}
	return c.apply(scale, nil)
}

// Resize records a new viewport size. With a sticky fit mode the fit is
// re-applied after the fit debounce.
func (c *Controller) Resize(width, height float64) {
	focus := c.centerFocus()
	c.surface.ClientWidth = math.Max(0, width)
	c.surface.ClientHeight = math.Max(0, height)
	c.relayout()

	c.surface.ScrollTop = focus.BaseY*c.state.Scale - c.surface.ClientHeight/2 + c.surface.MarginTop
	c.surface.ScrollLeft = focus.BaseX*c.state.Scale - c.surface.ClientWidth/2 + c.surface.MarginLeft
	c.clampScroll()

	if c.fit != FitNone {
		c.refit.Trigger()
	}
}

func (c *Controller) fireRefit() {
	if c.fit == FitNone {
		return
	}
	c.applyFit()
}

func (c *Controller) fireQuality() {
	if c.onQuality != nil {
		c.onQuality(c.state)
	}
}

// FlushQuality runs a pending quality pass immediately.
func (c *Controller) FlushQuality() bool {
	return c.quality.Flush()
}

// QualityPending reports whether a quality pass is scheduled.
func (c *Controller) QualityPending() bool {
	return c.quality.Pending()
}

// Rotate advances rotation by 90 degrees.
func (c *Controller) Rotate() {
	c.SetRotation(c.state.Rotation + 90)
}

// SetRotation sets an absolute rotation, notifying OnRotate when it
// changed. A sticky fit mode is re-applied for the new aspect.
func (c *Controller) SetRotation(rotation int) bool {
	rotation = document.NormalizeRotation(rotation)
	prev := c.state
	if rotation == prev.Rotation {
		return false
	}
	c.state.Rotation = rotation
	c.logger.Debug("rotation changed", "from", prev.Rotation, "to", rotation)
	if c.onRotate != nil {
		c.onRotate(prev, c.state)
	}
	c.Refresh()
	if c.fit != FitNone {
		c.applyFit()
	}
	return true
}

// Stop cancels pending debounces.
func (c *Controller) Stop() {
	c.quality.Cancel()
	c.refit.Cancel()
}
