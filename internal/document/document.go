// Package document defines the page provider consumed by the viewer and its
// concrete PDF-backed implementation.
package document

import (
	"context"
	"errors"
	"image"
)

// ErrPageRange is returned when a page number is outside [1, PageCount].
var ErrPageRange = errors.New("page out of range")

// ErrInvalid is returned when the source bytes cannot be opened as a document.
var ErrInvalid = errors.New("invalid document")

// ErrClosed is returned by operations on a closed document.
var ErrClosed = errors.New("document closed")

// Document is an opened, paginated source.
type Document interface {
	// PageCount returns the number of pages (at least 1 for a valid document).
	PageCount() int

	// Page returns a decoder handle for page n (1-indexed).
	// The caller owns the handle and must call Cleanup when done.
	Page(ctx context.Context, n int) (Page, error)

	// Close releases all resources held by the document.
	Close() error
}

// Page is a decoder handle for a single page.
type Page interface {
	// Number returns the 1-indexed page number.
	Number() int

	// Size returns the intrinsic page size in points at scale 1.0, rotation 0.
	Size() Size

	// Viewport returns the geometry of the page at the given scale and
	// additional rotation (a multiple of 90).
	Viewport(scale float64, rotation int) Viewport

	// Render rasterizes the page into an image sized to the viewport.
	// Cancelling ctx asks the backend to stop; backends may ignore a cancel
	// that arrives after the work already finished.
	Render(ctx context.Context, vp Viewport) (image.Image, error)

	// TextContent returns the positioned text runs of the page.
	TextContent(ctx context.Context) ([]TextItem, error)

	// Annotations returns the page's link and widget annotations.
	Annotations(ctx context.Context) ([]Annotation, error)

	// Cleanup tells the backend to free decoded data for this page.
	Cleanup()
}

// Size is a width/height pair in points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextItem is a run of text in PDF user space.
// X, Y is the baseline origin; W is the advance width.
type TextItem struct {
	Text     string  `json:"text"`
	Font     string  `json:"font,omitempty"`
	FontSize float64 `json:"font_size"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
}

// AnnotationKind identifies the annotation subtype.
type AnnotationKind string

const (
	AnnotationLink   AnnotationKind = "link"
	AnnotationWidget AnnotationKind = "widget"
)

// Annotation is a link or form widget in PDF user space.
type Annotation struct {
	Kind AnnotationKind `json:"kind"`
	// Rect is [llx, lly, urx, ury] in user space.
	Rect [4]float64 `json:"rect"`
	URI  string     `json:"uri,omitempty"`
	// DestPage is the 1-indexed target for internal links, 0 if none.
	DestPage int `json:"dest_page,omitempty"`
}
