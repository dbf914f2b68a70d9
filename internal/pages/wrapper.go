// Package pages is the virtualization layer: a bounded set of per-page
// wrappers materialized around the visible range and evicted as it moves.
package pages

import (
	"context"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/render"
)

// TextSpan is a positioned run of selectable text in base-scale pixels.
type TextSpan struct {
	Text     string  `json:"text"`
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	FontSize float64 `json:"font_size"`
	Font     string  `json:"font,omitempty"`
}

// TextLayer overlays selectable text on a page, sized to its base viewport.
type TextLayer struct {
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Spans  []TextSpan `json:"spans"`
}

// AnnotationElement is a link or widget hit area in base-scale pixels.
type AnnotationElement struct {
	Kind     document.AnnotationKind `json:"kind"`
	Left     float64                 `json:"left"`
	Top      float64                 `json:"top"`
	Width    float64                 `json:"width"`
	Height   float64                 `json:"height"`
	URI      string                  `json:"uri,omitempty"`
	DestPage int                     `json:"dest_page,omitempty"`
}

// AnnotationLayer overlays link and form hit areas on a page.
type AnnotationLayer struct {
	Width    float64             `json:"width"`
	Height   float64             `json:"height"`
	Elements []AnnotationElement `json:"elements"`
}

// Wrapper is a materialized page. Positions are base-scale; the visual
// zoom is applied globally and never baked in here.
type Wrapper struct {
	PageNumber   int
	Loaded       bool
	Rendering    bool
	RenderScale  float64 // effective scale of Canvas, 0 when none
	LayersLoaded bool
	EditMode     bool

	Top    float64
	Width  float64
	Height float64

	Canvas          *render.Canvas
	TextLayer       *TextLayer
	AnnotationLayer *AnnotationLayer
	Failed          error

	// Page is the decoder handle, owned by this wrapper until eviction.
	Page document.Page

	layerCancel context.CancelFunc
}

// NeedsRender reports whether the wrapper should be queued for rendering.
func (w *Wrapper) NeedsRender() bool {
	return !w.Loaded && !w.Rendering && w.Failed == nil
}

// Live reports whether the wrapper holds or is building a canvas.
func (w *Wrapper) Live() bool {
	return w.Loaded || w.Rendering
}

// Visible reports whether the wrapper has a canvas to show.
func (w *Wrapper) Visible() bool {
	return w.Canvas != nil && !w.Canvas.Released()
}

// SetLayerCancel records the cancel func of an in-flight layer build,
// cancelling any previous one.
func (w *Wrapper) SetLayerCancel(cancel context.CancelFunc) {
	w.CancelLayers()
	w.layerCancel = cancel
}

// CancelLayers cancels an in-flight layer build.
func (w *Wrapper) CancelLayers() {
	if w.layerCancel != nil {
		w.layerCancel()
		w.layerCancel = nil
	}
}

// StripLayers drops the text and annotation layers.
func (w *Wrapper) StripLayers() {
	w.CancelLayers()
	w.TextLayer = nil
	w.AnnotationLayer = nil
	w.LayersLoaded = false
}

// SetCanvas replaces the canvas, releasing the old one.
func (w *Wrapper) SetCanvas(c *render.Canvas) {
	if w.Canvas != nil && w.Canvas != c {
		w.Canvas.Release()
	}
	w.Canvas = c
}
