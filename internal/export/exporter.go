package export

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"

	"github.com/jackzampolin/folio/internal/document"
)

// Annotations is the annotation tool's export surface.
type Annotations interface {
	HasChanges() bool

	// PageCanvas returns the freehand overlay for page, in the rotated
	// orientation it was drawn in.
	PageCanvas(page int) (image.Image, bool)

	// DrawText draws the page's text objects into dst, where dst is the
	// page at scale pixels per point in the drawn orientation.
	DrawText(page int, dst draw.Image, scale float64) error
}

// TextEdits is the text-edit overlay's export surface.
type TextEdits interface {
	HasChanges() bool
	ApplyChanges(ctx context.Context, m *Model) error
}

// Request describes one export.
type Request struct {
	// Original is the unmodified document. It is copied, never written.
	Original []byte
	// Rotation is the view rotation baked into every page.
	Rotation    int
	Annotations Annotations
	TextEdits   TextEdits
}

// Exporter builds modified documents.
type Exporter struct {
	logger *slog.Logger
	scale  float64
}

// DefaultExportScale is the overlay resolution in pixels per point when
// the annotation tool has no canvas of its own for a page.
const DefaultExportScale = 2.0

// NewExporter creates an exporter.
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		logger: logger.With("component", "export"),
		scale:  DefaultExportScale,
	}
}

// Export applies text edits, annotation overlays and rotation to a fresh
// copy of req.Original. The page count and order are preserved.
func (e *Exporter) Export(ctx context.Context, req Request) ([]byte, error) {
	m, err := Load(req.Original)
	if err != nil {
		return nil, err
	}
	rotation := document.NormalizeRotation(req.Rotation)

	if req.TextEdits != nil && req.TextEdits.HasChanges() {
		if err := req.TextEdits.ApplyChanges(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to apply text edits: %w", err)
		}
	}

	if req.Annotations != nil && req.Annotations.HasChanges() {
		for n := 1; n <= m.PageCount(); n++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			overlay, err := e.pageOverlay(m, n, rotation, req.Annotations)
			if err != nil {
				return nil, fmt.Errorf("failed to composite page %d: %w", n, err)
			}
			if overlay == nil {
				continue
			}
			if err := m.DrawImage(n, overlay); err != nil {
				return nil, err
			}
		}
	}

	if rotation != 0 {
		for n := 1; n <= m.PageCount(); n++ {
			if err := m.SetPageRotation(n, rotation); err != nil {
				return nil, err
			}
		}
	}

	out, err := m.Save(ctx)
	if err != nil {
		return nil, err
	}

	got, err := CountPages(out)
	if err != nil {
		return nil, fmt.Errorf("exported document is unreadable: %w", err)
	}
	if got != m.PageCount() {
		return nil, fmt.Errorf("export changed page count from %d to %d", m.PageCount(), got)
	}

	e.logger.Info("document exported", "pages", got, "rotation", rotation, "bytes", len(out))
	return out, nil
}

// pageOverlay composites the annotation canvas and text objects of page n
// and returns them in unrotated page space, or nil when nothing was drawn.
func (e *Exporter) pageOverlay(m *Model, n, rotation int, annots Annotations) (image.Image, error) {
	size, err := m.PageSize(n)
	if err != nil {
		return nil, err
	}
	vw, vh := size.Width, size.Height
	if rotation == 90 || rotation == 270 {
		vw, vh = vh, vw
	}

	scale := e.scale
	canvas, hasCanvas := annots.PageCanvas(n)
	if hasCanvas && canvas != nil && canvas.Bounds().Dx() > 0 {
		scale = float64(canvas.Bounds().Dx()) / vw
	}

	w := int(math.Max(1, math.Round(vw*scale)))
	h := int(math.Max(1, math.Round(vh*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if hasCanvas && canvas != nil {
		draw.Draw(dst, dst.Bounds(), canvas, canvas.Bounds().Min, draw.Over)
	}
	if err := annots.DrawText(n, dst, scale); err != nil {
		return nil, err
	}

	if isBlank(dst) {
		return nil, nil
	}
	if rotation == 0 {
		return dst, nil
	}
	return document.RotateImage(dst, 360-rotation), nil
}

// isBlank reports whether every pixel is fully transparent.
func isBlank(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}
