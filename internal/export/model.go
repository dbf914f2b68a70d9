// Package export produces a modified copy of a document: rotation, text
// edits and raster annotation overlays applied page by page onto a fresh
// copy of the original bytes.
package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/jackzampolin/folio/internal/document"
)

// Model is an editable document backed by pdfcpu. Mutations are recorded
// and applied in Save; the loaded bytes are never modified.
type Model struct {
	data  []byte
	conf  *model.Configuration
	sizes []document.Size

	rotations map[int]int
	overlays  map[int][]image.Image
}

// Load copies data into a new model.
func Load(data []byte) (*Model, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("failed to load document: no pages")
	}
	sizes := make([]document.Size, len(dims))
	for i, d := range dims {
		sizes[i] = document.Size{Width: d.Width, Height: d.Height}
	}

	return &Model{
		data:      append([]byte(nil), data...),
		conf:      conf,
		sizes:     sizes,
		rotations: make(map[int]int),
		overlays:  make(map[int][]image.Image),
	}, nil
}

// PageCount returns the number of pages.
func (m *Model) PageCount() int {
	return len(m.sizes)
}

// PageSize returns the unrotated media size of page n.
func (m *Model) PageSize(n int) (document.Size, error) {
	if n < 1 || n > len(m.sizes) {
		return document.Size{}, fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, len(m.sizes))
	}
	return m.sizes[n-1], nil
}

// SetPageRotation rotates page n by rotation degrees clockwise relative to
// its original orientation.
func (m *Model) SetPageRotation(n, rotation int) error {
	if n < 1 || n > len(m.sizes) {
		return fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, len(m.sizes))
	}
	if rotation%90 != 0 {
		return fmt.Errorf("rotation must be a multiple of 90, got %d", rotation)
	}
	m.rotations[n] = document.NormalizeRotation(rotation)
	return nil
}

// DrawImage stamps img over the whole of page n, in unrotated page space.
func (m *Model) DrawImage(n int, img image.Image) error {
	if n < 1 || n > len(m.sizes) {
		return fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, len(m.sizes))
	}
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("empty overlay for page %d", n)
	}
	m.overlays[n] = append(m.overlays[n], img)
	return nil
}

// Save applies every recorded mutation and returns the new bytes.
func (m *Model) Save(ctx context.Context) ([]byte, error) {
	current := m.data

	pagesWithOverlays := make([]int, 0, len(m.overlays))
	for n := range m.overlays {
		pagesWithOverlays = append(pagesWithOverlays, n)
	}
	sort.Ints(pagesWithOverlays)

	for _, n := range pagesWithOverlays {
		for i, img := range m.overlays[n] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			next, err := m.stamp(current, n, img)
			if err != nil {
				return nil, fmt.Errorf("failed to stamp overlay %d on page %d: %w", i+1, n, err)
			}
			current = next
		}
	}

	// Group pages by rotation so each angle is one pass.
	byAngle := make(map[int][]string)
	for n, rot := range m.rotations {
		if rot == 0 {
			continue
		}
		byAngle[rot] = append(byAngle[rot], strconv.Itoa(n))
	}
	angles := make([]int, 0, len(byAngle))
	for rot := range byAngle {
		angles = append(angles, rot)
	}
	sort.Ints(angles)

	for _, rot := range angles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		selected := byAngle[rot]
		sort.Strings(selected)
		var out bytes.Buffer
		if err := api.Rotate(bytes.NewReader(current), &out, rot, selected, m.conf); err != nil {
			return nil, fmt.Errorf("failed to rotate pages by %d: %w", rot, err)
		}
		current = out.Bytes()
	}

	return current, nil
}

func (m *Model) stamp(data []byte, n int, img image.Image) ([]byte, error) {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}

	wm, err := api.ImageWatermarkForReader(&encoded, "scale:1 rel, rot:0, opacity:1", true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("failed to build stamp: %w", err)
	}

	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(data), &out, []string{strconv.Itoa(n)}, wm, m.conf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// CountPages reports the page count of data.
func CountPages(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}
