package export

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/jackzampolin/folio/internal/document"
)

// TextBox is an annotation text object. X, Y is the top-left corner in
// points, in the orientation the page was drawn in.
type TextBox struct {
	X     float64    `json:"x"`
	Y     float64    `json:"y"`
	Text  string     `json:"text"`
	Color color.RGBA `json:"color"`
}

// OverlaySet is an in-memory Annotations store: one raster canvas and a
// list of text boxes per page.
type OverlaySet struct {
	mu       sync.Mutex
	canvases map[int]image.Image
	texts    map[int][]TextBox
	dirty    bool
}

var _ Annotations = (*OverlaySet)(nil)

// NewOverlaySet creates an empty set.
func NewOverlaySet() *OverlaySet {
	return &OverlaySet{
		canvases: make(map[int]image.Image),
		texts:    make(map[int][]TextBox),
	}
}

// SetCanvas stages the freehand overlay for page.
func (s *OverlaySet) SetCanvas(page int, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvases[page] = img
	s.dirty = true
}

// ClearPage drops everything staged for page.
func (s *OverlaySet) ClearPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hadCanvas := s.canvases[page]
	_, hadText := s.texts[page]
	delete(s.canvases, page)
	delete(s.texts, page)
	if hadCanvas || hadText {
		s.dirty = true
	}
}

// AddText stages a text box on page.
func (s *OverlaySet) AddText(page int, box TextBox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[page] = append(s.texts[page], box)
	s.dirty = true
}

// Pages returns the pages with staged content, ascending.
func (s *OverlaySet) Pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int]bool)
	for p := range s.canvases {
		seen[p] = true
	}
	for p := range s.texts {
		seen[p] = true
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// HasChanges reports whether anything was staged since the last MarkSaved.
func (s *OverlaySet) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkSaved clears the change flag after a successful save. Staged content
// is dropped since it is now part of the document.
func (s *OverlaySet) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.canvases)
	clear(s.texts)
	s.dirty = false
}

func (s *OverlaySet) PageCanvas(page int) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.canvases[page]
	return img, ok
}

func (s *OverlaySet) DrawText(page int, dst draw.Image, scale float64) error {
	s.mu.Lock()
	boxes := append([]TextBox(nil), s.texts[page]...)
	s.mu.Unlock()

	for _, box := range boxes {
		c := box.Color
		if c.A == 0 {
			c = color.RGBA{A: 255}
		}
		drawString(dst, box.Text, box.X*scale, box.Y*scale, c)
	}
	return nil
}

// drawString draws text with its top-left corner at (x, y) pixels.
func drawString(dst draw.Image, text string, x, y float64, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))+face.Ascent),
	}
	d.DrawString(text)
}

// TextPatch replaces the text inside Rect ([llx, lly, urx, ury] in user
// space) on Page with Text.
type TextPatch struct {
	Page int        `json:"page"`
	Rect [4]float64 `json:"rect"`
	Text string     `json:"text"`
}

// TextPatches is an in-memory TextEdits store. Each patch covers the old
// text with a white box and draws the replacement over it.
type TextPatches struct {
	mu      sync.Mutex
	patches []TextPatch
	scale   float64
}

var _ TextEdits = (*TextPatches)(nil)

// NewTextPatches creates an empty patch set.
func NewTextPatches() *TextPatches {
	return &TextPatches{scale: DefaultExportScale}
}

// Add stages a patch.
func (t *TextPatches) Add(p TextPatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patches = append(t.patches, p)
}

// Patches returns the staged patches.
func (t *TextPatches) Patches() []TextPatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TextPatch(nil), t.patches...)
}

// Reset drops every staged patch.
func (t *TextPatches) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patches = nil
}

func (t *TextPatches) HasChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.patches) > 0
}

func (t *TextPatches) ApplyChanges(ctx context.Context, m *Model) error {
	byPage := make(map[int][]TextPatch)
	for _, p := range t.Patches() {
		byPage[p.Page] = append(byPage[p.Page], p)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, n := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		size, err := m.PageSize(n)
		if err != nil {
			return fmt.Errorf("text patch: %w", err)
		}
		vp := document.NewViewport(size, t.scale, 0)
		w, h := vp.PixelSize()
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for _, p := range byPage[n] {
			r := vp.RectToViewport(p.Rect)
			box := image.Rect(int(math.Floor(r[0])), int(math.Floor(r[1])), int(math.Ceil(r[2])), int(math.Ceil(r[3])))
			draw.Draw(img, box, image.White, image.Point{}, draw.Src)
			drawString(img, p.Text, r[0], r[1], color.Black)
		}
		if err := m.DrawImage(n, img); err != nil {
			return err
		}
	}
	return nil
}
