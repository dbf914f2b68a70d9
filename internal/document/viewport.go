package document

import (
	"math"

	"seehuhn.de/go/geom/matrix"
)

// Viewport is the geometry of a page at a given scale and rotation.
type Viewport struct {
	Width    float64
	Height   float64
	Scale    float64
	Rotation int
	// Transform maps PDF user space (origin bottom-left, y up) to viewport
	// pixels (origin top-left, y down).
	Transform matrix.Matrix
}

// NormalizeRotation maps any multiple of 90 into {0, 90, 180, 270}.
func NormalizeRotation(rotation int) int {
	r := rotation % 360
	if r < 0 {
		r += 360
	}
	return r - r%90
}

// NewViewport computes the viewport of a page whose media box spans
// [0, 0, size.Width, size.Height].
func NewViewport(size Size, scale float64, rotation int) Viewport {
	rotation = NormalizeRotation(rotation)

	x0, y0, x1, y1 := 0.0, 0.0, size.Width, size.Height
	cx, cy := (x0+x1)/2, (y0+y1)/2

	var a, b, c, d float64
	switch rotation {
	case 90:
		a, b, c, d = 0, 1, 1, 0
	case 180:
		a, b, c, d = -1, 0, 0, 1
	case 270:
		a, b, c, d = 0, -1, -1, 0
	default:
		a, b, c, d = 1, 0, 0, -1
	}

	var offX, offY, w, h float64
	if a == 0 {
		offX = math.Abs(cy-y0) * scale
		offY = math.Abs(cx-x0) * scale
		w = math.Abs(y1-y0) * scale
		h = math.Abs(x1-x0) * scale
	} else {
		offX = math.Abs(cx-x0) * scale
		offY = math.Abs(cy-y0) * scale
		w = math.Abs(x1-x0) * scale
		h = math.Abs(y1-y0) * scale
	}

	m := matrix.Matrix{
		a * scale,
		b * scale,
		c * scale,
		d * scale,
		offX - a*scale*cx - c*scale*cy,
		offY - b*scale*cx - d*scale*cy,
	}

	return Viewport{
		Width:     w,
		Height:    h,
		Scale:     scale,
		Rotation:  rotation,
		Transform: m,
	}
}

// ToViewport maps a point in PDF user space to viewport pixels.
func (vp Viewport) ToViewport(x, y float64) (float64, float64) {
	return vp.Transform.Apply(x, y)
}

// ToUser maps a viewport pixel back to PDF user space.
func (vp Viewport) ToUser(x, y float64) (float64, float64) {
	return vp.Transform.Inv().Apply(x, y)
}

// RectToViewport maps a user-space rectangle [llx, lly, urx, ury] to a
// normalized viewport rectangle [left, top, right, bottom].
func (vp Viewport) RectToViewport(r [4]float64) [4]float64 {
	ax, ay := vp.ToViewport(r[0], r[1])
	bx, by := vp.ToViewport(r[2], r[3])
	return [4]float64{
		math.Min(ax, bx),
		math.Min(ay, by),
		math.Max(ax, bx),
		math.Max(ay, by),
	}
}

// PixelSize returns the integer bitmap size needed to hold the viewport.
func (vp Viewport) PixelSize() (int, int) {
	return int(math.Ceil(vp.Width - 1e-9)), int(math.Ceil(vp.Height - 1e-9))
}
