package viewer

import (
	"time"

	"github.com/jackzampolin/folio/internal/layers"
	"github.com/jackzampolin/folio/internal/pages"
	"github.com/jackzampolin/folio/internal/render"
	"github.com/jackzampolin/folio/internal/zoom"
)

// Options tunes a Viewer. Zero values fall back to the defaults, except
// AutoSaveOnClose, which is taken as given.
type Options struct {
	BufferPages int

	MinZoom          float64
	MaxZoom          float64
	ZoomStep         float64
	QualityDebounce  time.Duration
	QualityThreshold float64 // relative deviation that triggers a re-render

	FastScrollVelocity float64 // px/ms
	FastScrollQuiet    time.Duration

	FitDebounce time.Duration
	FitPadding  float64

	IdleSlice        time.Duration
	LayerIdleTimeout time.Duration

	DevicePixelRatio float64
	MaxCanvasPixels  int

	AutoSaveOnClose bool

	// ViewportWidth and ViewportHeight size the scroll surface until the
	// first Resize.
	ViewportWidth  float64
	ViewportHeight float64
}

// Defaults.
const (
	DefaultQualityThreshold = 0.2
	DefaultDevicePixelRatio = 1.0
	DefaultMaxCanvasPixels  = 4096 * 4096
	DefaultViewportWidth    = 1024
	DefaultViewportHeight   = 768
)

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		BufferPages:        pages.DefaultBuffer,
		MinZoom:            zoom.DefaultMinZoom,
		MaxZoom:            zoom.DefaultMaxZoom,
		ZoomStep:           zoom.DefaultZoomStep,
		QualityDebounce:    zoom.DefaultQualityDebounce,
		QualityThreshold:   DefaultQualityThreshold,
		FastScrollVelocity: render.DefaultFastScrollVelocity,
		FastScrollQuiet:    render.DefaultFastScrollQuiet,
		FitDebounce:        zoom.DefaultFitDebounce,
		FitPadding:         zoom.DefaultFitPadding,
		IdleSlice:          layers.DefaultIdleSlice,
		LayerIdleTimeout:   layers.DefaultTimeout,
		DevicePixelRatio:   DefaultDevicePixelRatio,
		MaxCanvasPixels:    DefaultMaxCanvasPixels,
		AutoSaveOnClose:    true,
		ViewportWidth:      DefaultViewportWidth,
		ViewportHeight:     DefaultViewportHeight,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BufferPages == 0 {
		o.BufferPages = d.BufferPages
	}
	if o.MinZoom <= 0 {
		o.MinZoom = d.MinZoom
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = d.MaxZoom
	}
	if o.ZoomStep <= 1 {
		o.ZoomStep = d.ZoomStep
	}
	if o.QualityDebounce <= 0 {
		o.QualityDebounce = d.QualityDebounce
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = d.QualityThreshold
	}
	if o.FastScrollVelocity <= 0 {
		o.FastScrollVelocity = d.FastScrollVelocity
	}
	if o.FastScrollQuiet <= 0 {
		o.FastScrollQuiet = d.FastScrollQuiet
	}
	if o.FitDebounce <= 0 {
		o.FitDebounce = d.FitDebounce
	}
	if o.FitPadding < 0 {
		o.FitPadding = 0
	}
	if o.IdleSlice <= 0 {
		o.IdleSlice = d.IdleSlice
	}
	if o.LayerIdleTimeout <= 0 {
		o.LayerIdleTimeout = d.LayerIdleTimeout
	}
	if o.DevicePixelRatio <= 0 {
		o.DevicePixelRatio = d.DevicePixelRatio
	}
	if o.MaxCanvasPixels <= 0 {
		o.MaxCanvasPixels = d.MaxCanvasPixels
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = d.ViewportWidth
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = d.ViewportHeight
	}
	return o
}
