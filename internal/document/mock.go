package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"
)

// Letter is the US Letter page size in points.
var Letter = Size{Width: 612, Height: 792}

// UniformSizes returns n copies of size.
func UniformSizes(n int, size Size) []Size {
	sizes := make([]Size, n)
	for i := range sizes {
		sizes[i] = size
	}
	return sizes
}

// MockDocument is an in-memory Document with controllable latency and
// failures. It records renders and cleanups for assertions.
type MockDocument struct {
	sizes []Size

	mu          sync.Mutex
	renderDelay time.Duration
	gate        chan struct{}
	failures    map[int]error
	text        map[int][]TextItem
	annots      map[int][]Annotation

	started   []int
	completed []int
	cancelled int
	active    int
	maxActive int
	openPages int
	cleanups  int
	closed    bool
}

var _ Document = (*MockDocument)(nil)

// NewMock creates a mock document with the given page sizes.
func NewMock(sizes ...Size) *MockDocument {
	return &MockDocument{
		sizes:    append([]Size(nil), sizes...),
		failures: make(map[int]error),
		text:     make(map[int][]TextItem),
		annots:   make(map[int][]Annotation),
	}
}

// SetRenderDelay makes every render take at least d (or until cancelled).
func (m *MockDocument) SetRenderDelay(d time.Duration) {
	m.mu.Lock()
	m.renderDelay = d
	m.mu.Unlock()
}

// Hold blocks all subsequent renders until Release is called.
func (m *MockDocument) Hold() {
	m.mu.Lock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
	m.mu.Unlock()
}

// Release unblocks renders waiting on Hold.
func (m *MockDocument) Release() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

// FailPage makes renders of page n return err.
func (m *MockDocument) FailPage(n int, err error) {
	m.mu.Lock()
	m.failures[n] = err
	m.mu.Unlock()
}

// SetText sets the text content of page n.
func (m *MockDocument) SetText(n int, items []TextItem) {
	m.mu.Lock()
	m.text[n] = items
	m.mu.Unlock()
}

// SetAnnotations sets the annotations of page n.
func (m *MockDocument) SetAnnotations(n int, annots []Annotation) {
	m.mu.Lock()
	m.annots[n] = annots
	m.mu.Unlock()
}

func (m *MockDocument) PageCount() int { return len(m.sizes) }

func (m *MockDocument) Page(ctx context.Context, n int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if n < 1 || n > len(m.sizes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, n, len(m.sizes))
	}
	m.openPages++
	return &mockPage{doc: m, number: n, size: m.sizes[n-1]}, nil
}

func (m *MockDocument) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MockDocument) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Started returns the page numbers of every render begun, in order.
func (m *MockDocument) Started() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.started...)
}

// Completed returns the page numbers of every render that finished
// successfully, in completion order.
func (m *MockDocument) Completed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.completed...)
}

// Cancelled returns how many renders observed a cancelled context.
func (m *MockDocument) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// MaxConcurrent returns the highest number of simultaneous renders seen.
func (m *MockDocument) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// OpenPages returns how many page handles await Cleanup.
func (m *MockDocument) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPages
}

// Cleanups returns how many page handles were cleaned up.
func (m *MockDocument) Cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}

type mockPage struct {
	doc    *MockDocument
	number int
	size   Size

	once sync.Once
}

func (p *mockPage) Number() int { return p.number }

func (p *mockPage) Size() Size { return p.size }

func (p *mockPage) Viewport(scale float64, rotation int) Viewport {
	return NewViewport(p.size, scale, rotation)
}

func (p *mockPage) Render(ctx context.Context, vp Viewport) (image.Image, error) {
	m := p.doc
	m.mu.Lock()
	m.started = append(m.started, p.number)
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	delay := m.renderDelay
	gate := m.gate
	failure := m.failures[p.number]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled++
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled++
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	w, h := vp.PixelSize()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: uint8(p.number * 37), G: uint8(p.number * 71), B: uint8(vp.Rotation / 90 * 60), A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = fill.R
		img.Pix[i+1] = fill.G
		img.Pix[i+2] = fill.B
		img.Pix[i+3] = fill.A
	}

	m.mu.Lock()
	m.completed = append(m.completed, p.number)
	m.mu.Unlock()
	return img, nil
}

func (p *mockPage) TextContent(ctx context.Context) ([]TextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	return p.doc.text[p.number], nil
}

func (p *mockPage) Annotations(ctx context.Context) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	return p.doc.annots[p.number], nil
}

func (p *mockPage) Cleanup() {
	p.once.Do(func() {
		p.doc.mu.Lock()
		p.doc.openPages--
		p.doc.cleanups++
		p.doc.mu.Unlock()
	})
}

// MinimalPDF builds a small valid PDF with one page per size. Each page
// draws "Page N" in Helvetica near its top-left corner.
func MinimalPDF(sizes ...Size) []byte {
	if len(sizes) == 0 {
		sizes = []Size{Letter}
	}

	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	// Object layout: 1 catalog, 2 pages, 3 font, then (page, content) pairs.
	kids := make([]string, len(sizes))
	for i := range sizes {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(sizes)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, s := range sizes {
		stream := fmt.Sprintf("BT /F1 24 Tf 72 %.0f Td (Page %d) Tj ET", s.Height-72, i+1)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			s.Width, s.Height, 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
