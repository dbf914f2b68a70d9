package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func init() {
	// pdfcpu otherwise reads and writes a config dir, which is not safe with
	// concurrent opens.
	api.DisableConfigDir()
}

// Options configures how a PDF is opened.
type Options struct {
	Backend Backend
	Logger  *slog.Logger
}

// PDF is a Document backed by pdfcpu (structure), ledongthuc/pdf (text)
// and a Rasterizer (pixels).
type PDF struct {
	data   []byte
	conf   *model.Configuration
	sizes  []Size
	raster Rasterizer
	logger *slog.Logger

	textMu     sync.Mutex
	textReader *pdf.Reader

	annotsOnce sync.Once
	annots     map[int][]Annotation
	annotsErr  error

	openPages atomic.Int32

	mu     sync.Mutex
	closed bool
}

var _ Document = (*PDF)(nil)

// Open parses data as a PDF. Malformed or encrypted documents return an
// error wrapping ErrInvalid.
func Open(data []byte, opts Options) (*PDF, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalid)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalid)
	}

	sizes := make([]Size, len(dims))
	for i, d := range dims {
		sizes[i] = Size{Width: d.Width, Height: d.Height}
	}

	raster, err := NewRasterizer(opts.Backend, data)
	if err != nil {
		return nil, err
	}

	logger.Debug("opened pdf", "pages", len(sizes), "backend", opts.Backend)

	return &PDF{
		data:   data,
		conf:   conf,
		sizes:  sizes,
		raster: raster,
		logger: logger,
	}, nil
}

// PageCount returns the number of pages.
func (d *PDF) PageCount() int {
	return len(d.sizes)
}

// Bytes returns the original document bytes. Callers must not modify them.
func (d *PDF) Bytes() []byte {
	return d.data
}

// OpenPages reports how many page handles have not been cleaned up.
func (d *PDF) OpenPages() int {
	return int(d.openPages.Load())
}

// Page returns a handle for page n.
func (d *PDF) Page(ctx context.Context, n int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if n < 1 || n > len(d.sizes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, n, len(d.sizes))
	}
	d.openPages.Add(1)
	return &pdfPage{doc: d, number: n, size: d.sizes[n-1]}, nil
}

// Close releases the rasterizer.
func (d *PDF) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.raster.Close()
}

func (d *PDF) reader() (*pdf.Reader, error) {
	if d.textReader != nil {
		return d.textReader, nil
	}
	r, err := pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf text reader: %w", err)
	}
	d.textReader = r
	return r, nil
}

// pageText extracts text runs for page n. ledongthuc/pdf panics on some
// malformed content streams, which is reported as an error.
func (d *PDF) pageText(n int) (items []TextItem, err error) {
	d.textMu.Lock()
	defer d.textMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("text extraction failed on page %d: %v", n, r)
		}
	}()

	r, err := d.reader()
	if err != nil {
		return nil, err
	}
	p := r.Page(n)
	if p.V.IsNull() {
		return nil, nil
	}

	content := p.Content()
	return mergeRuns(content.Text), nil
}

// loadAnnotations reads link and widget annotations for all pages once.
func (d *PDF) loadAnnotations() (map[int][]Annotation, error) {
	d.annotsOnce.Do(func() {
		d.conf.Cmd = model.LISTANNOTATIONS
		ctx, err := api.ReadAndValidate(bytes.NewReader(d.data), d.conf)
		if err != nil {
			d.annotsErr = fmt.Errorf("failed to read annotations: %w", err)
			return
		}
		xref := ctx.XRefTable

		d.annots = make(map[int][]Annotation)
		for pageNr, pageAnnots := range xref.PageAnnots {
			if links, ok := pageAnnots[model.AnnLink]; ok {
				for objNr, renderer := range links.Map {
					link, ok := renderer.(model.LinkAnnotation)
					if !ok {
						continue
					}
					a := Annotation{
						Kind: AnnotationLink,
						Rect: rectOf(link.Rect),
						URI:  link.URI,
					}
					if a.URI == "" {
						if dict := annotDict(xref, pageNr, objNr); dict != nil {
							a.DestPage = linkDestPage(xref, dict)
						}
					}
					d.annots[pageNr] = append(d.annots[pageNr], a)
				}
			}
			if widgets, ok := pageAnnots[model.AnnWidget]; ok {
				for _, renderer := range widgets.Map {
					widget, ok := renderer.(model.Annotation)
					if !ok {
						continue
					}
					d.annots[pageNr] = append(d.annots[pageNr], Annotation{
						Kind: AnnotationWidget,
						Rect: rectOf(widget.Rect),
					})
				}
			}
		}
		for pageNr := range d.annots {
			sort.Slice(d.annots[pageNr], func(i, j int) bool {
				a, b := d.annots[pageNr][i].Rect, d.annots[pageNr][j].Rect
				if a[3] != b[3] {
					return a[3] > b[3]
				}
				return a[0] < b[0]
			})
		}
	})
	return d.annots, d.annotsErr
}

func rectOf(r types.Rectangle) [4]float64 {
	return [4]float64{r.LL.X, r.LL.Y, r.UR.X, r.UR.Y}
}

// annotDict returns the dictionary of the annotation pdfcpu keyed objNr on
// pageNr. Direct dictionaries are keyed by the negated index into /Annots.
func annotDict(xref *model.XRefTable, pageNr, objNr int) types.Dict {
	if objNr > 0 {
		dict, err := xref.DereferenceDict(*types.NewIndirectRef(objNr, 0))
		if err != nil {
			return nil
		}
		return dict
	}
	page, _, _, err := xref.PageDict(pageNr, false)
	if err != nil || page == nil {
		return nil
	}
	annots, err := xref.DereferenceArray(page["Annots"])
	if err != nil || -objNr >= len(annots) {
		return nil
	}
	dict, err := xref.DereferenceDict(annots[-objNr])
	if err != nil {
		return nil
	}
	return dict
}

// linkDestPage resolves the target page of an internal link from its /Dest
// entry or a GoTo action. It returns 0 when there is none.
func linkDestPage(xref *model.XRefTable, link types.Dict) int {
	dest, found := link.Find("Dest")
	if !found {
		action, err := xref.DereferenceDict(link["A"])
		if err != nil || action == nil {
			return 0
		}
		if s := action.NameEntry("S"); s == nil || *s != "GoTo" {
			return 0
		}
		if dest, found = action.Find("D"); !found {
			return 0
		}
	}

	o, err := xref.Dereference(dest)
	if err != nil {
		return 0
	}
	var arr types.Array
	switch v := o.(type) {
	case types.Array:
		arr = v
	case types.Name:
		arr, err = xref.DereferenceDestArray(v.Value())
	case types.StringLiteral:
		var name string
		if name, err = types.StringLiteralToString(v); err == nil {
			arr, err = xref.DereferenceDestArray(name)
		}
	case types.HexLiteral:
		var name string
		if name, err = types.HexLiteralToString(v); err == nil {
			arr, err = xref.DereferenceDestArray(name)
		}
	}
	if err != nil || len(arr) == 0 {
		return 0
	}

	switch target := arr[0].(type) {
	case types.IndirectRef:
		n, err := xref.PageNumber(target.ObjectNumber.Value())
		if err != nil {
			return 0
		}
		return n
	case types.Integer:
		// Remote-style destinations carry a zero-based page index.
		return target.Value() + 1
	}
	return 0
}

type pdfPage struct {
	doc    *PDF
	number int
	size   Size

	mu      sync.Mutex
	text    []TextItem
	hasText bool
	cleaned bool
}

func (p *pdfPage) Number() int { return p.number }

func (p *pdfPage) Size() Size { return p.size }

func (p *pdfPage) Viewport(scale float64, rotation int) Viewport {
	return NewViewport(p.size, scale, rotation)
}

func (p *pdfPage) Render(ctx context.Context, vp Viewport) (image.Image, error) {
	return renderViewport(ctx, p.doc.raster, p.number, p.size, vp)
}

func (p *pdfPage) TextContent(ctx context.Context) ([]TextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.hasText {
		items := p.text
		p.mu.Unlock()
		return items, nil
	}
	p.mu.Unlock()

	items, err := p.doc.pageText(p.number)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if !p.cleaned {
		p.text = items
		p.hasText = true
	}
	p.mu.Unlock()
	return items, nil
}

func (p *pdfPage) Annotations(ctx context.Context) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := p.doc.loadAnnotations()
	if err != nil {
		return nil, err
	}
	return all[p.number], nil
}

func (p *pdfPage) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cleaned {
		return
	}
	p.cleaned = true
	p.text = nil
	p.hasText = false
	p.doc.openPages.Add(-1)
}

// mergeRuns joins per-glyph text items into runs that share a baseline
// and font and touch horizontally.
func mergeRuns(texts []pdf.Text) []TextItem {
	var items []TextItem
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if n := len(items); n > 0 {
			last := &items[n-1]
			gap := t.X - (last.X + last.W)
			if last.Font == t.Font &&
				math.Abs(last.Y-t.Y) < 0.5 &&
				math.Abs(last.FontSize-t.FontSize) < 0.01 &&
				gap > -0.5 && gap < t.FontSize*0.3 {
				last.Text += t.S
				last.W = t.X + t.W - last.X
				continue
			}
		}
		items = append(items, TextItem{
			Text:     t.S,
			Font:     t.Font,
			FontSize: t.FontSize,
			X:        t.X,
			Y:        t.Y,
			W:        t.W,
		})
	}
	for i := range items {
		items[i].Text = strings.TrimRight(items[i].Text, "\x00")
	}
	return items
}
