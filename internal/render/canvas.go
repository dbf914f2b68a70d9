package render

import (
	"image"
	"image/draw"
)

// Canvas is a rasterized page bitmap and the effective scale it was
// rendered at.
type Canvas struct {
	Image    *image.RGBA
	Scale    float64
	Rotation int
}

// NewCanvas wraps img, converting it to RGBA when needed.
func NewCanvas(img image.Image, scale float64, rotation int) *Canvas {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Min != (image.Point{}) {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Canvas{Image: rgba, Scale: scale, Rotation: rotation}
}

// Size returns the bitmap size in pixels, or zero after Release.
func (c *Canvas) Size() (int, int) {
	if c == nil || c.Image == nil {
		return 0, 0
	}
	b := c.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Released reports whether the pixel buffer was dropped.
func (c *Canvas) Released() bool {
	return c == nil || c.Image == nil
}

// Release zeroes and drops the pixel buffer.
func (c *Canvas) Release() {
	if c == nil || c.Image == nil {
		return
	}
	clear(c.Image.Pix)
	c.Image = nil
}
