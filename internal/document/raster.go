package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gen2brain/go-fitz"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Backend selects the rasterization implementation.
type Backend string

const (
	// BackendPdftoppm renders through the poppler-utils pdftoppm binary.
	BackendPdftoppm Backend = "pdftoppm"

	// BackendFitz renders in-process through MuPDF (go-fitz).
	BackendFitz Backend = "fitz"
)

// Rasterizer renders an unrotated page into a bitmap of exactly width x height.
type Rasterizer interface {
	Rasterize(ctx context.Context, page int, size Size, width, height int) (image.Image, error)
	Close() error
}

// NewRasterizer creates the rasterizer for the given backend over the raw
// document bytes.
func NewRasterizer(backend Backend, data []byte) (Rasterizer, error) {
	switch backend {
	case BackendFitz:
		return newFitzRasterizer(data)
	case BackendPdftoppm, "":
		return newPdftoppmRasterizer(data)
	default:
		return nil, fmt.Errorf("unknown render backend: %s", backend)
	}
}

// pdftoppmRasterizer shells out to pdftoppm for each page render.
// The document bytes are spooled to a temp file once at open.
type pdftoppmRasterizer struct {
	dir  string
	path string
}

func newPdftoppmRasterizer(data []byte) (*pdftoppmRasterizer, error) {
	dir, err := os.MkdirTemp("", "folio-doc-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to spool document: %w", err)
	}
	return &pdftoppmRasterizer{dir: dir, path: path}, nil
}

func (r *pdftoppmRasterizer) Rasterize(ctx context.Context, page int, _ Size, width, height int) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	outDir, err := os.MkdirTemp(r.dir, "page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outputPrefix := filepath.Join(outDir, "page")

	// -scale-to-x/-scale-to-y: exact output size in pixels
	// -singlefile: write <prefix>.png without a page suffix
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-scale-to-x", strconv.Itoa(width),
		"-scale-to-y", strconv.Itoa(height),
		"-singlefile",
		r.path,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode pdftoppm output: %w", err)
	}
	return fitTo(img, width, height), nil
}

func (r *pdftoppmRasterizer) Close() error {
	return os.RemoveAll(r.dir)
}

// fitzRasterizer renders with MuPDF. The MuPDF document is not safe for
// concurrent use, so renders are serialized.
type fitzRasterizer struct {
	mu  sync.Mutex
	doc *fitz.Document
}

func newFitzRasterizer(data []byte) (*fitzRasterizer, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &fitzRasterizer{doc: doc}, nil
}

func (r *fitzRasterizer) Rasterize(ctx context.Context, page int, size Size, width, height int) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.doc == nil {
		return nil, ErrClosed
	}

	dpi := 72.0
	if size.Width > 0 {
		dpi = 72.0 * float64(width) / size.Width
	}
	img, err := r.doc.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("mupdf render failed: %w", err)
	}
	return fitTo(img, width, height), nil
}

func (r *fitzRasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return nil
	}
	err := r.doc.Close()
	r.doc = nil
	return err
}

// fitTo rescales img to exactly width x height when the backend rounded
// differently.
func fitTo(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// RotateImage rotates img clockwise by rotation degrees (a multiple of 90).
func RotateImage(img image.Image, rotation int) image.Image {
	rotation = NormalizeRotation(rotation)
	if rotation == 0 {
		return img
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	dw, dh := b.Dx(), b.Dy()
	if rotation == 90 || rotation == 270 {
		dw, dh = dh, dw
	}

	var m f64.Aff3
	switch rotation {
	case 90:
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 180:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	}
	// Source bounds may not start at the origin.
	minX, minY := float64(b.Min.X), float64(b.Min.Y)
	m[2] -= m[0]*minX + m[1]*minY
	m[5] -= m[3]*minX + m[4]*minY

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.NearestNeighbor.Transform(dst, m, img, b, xdraw.Src, nil)
	return dst
}

// renderViewport rasterizes through r and orients the result for vp.
func renderViewport(ctx context.Context, r Rasterizer, page int, size Size, vp Viewport) (image.Image, error) {
	w := int(math.Max(1, math.Round(size.Width*vp.Scale)))
	h := int(math.Max(1, math.Round(size.Height*vp.Scale)))
	img, err := r.Rasterize(ctx, page, size, w, h)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return RotateImage(img, vp.Rotation), nil
}
