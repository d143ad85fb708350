// Package raster is the drawing surface the pipeline composites onto.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/andresmejia3/passport/internal/types"
	"github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ErrCanvasUnavailable means the surface could not be allocated.
var ErrCanvasUnavailable = errors.New("canvas unavailable")

// DefaultMaxPixels caps a single surface at 64 megapixels.
const DefaultMaxPixels = 64 << 20

// Surface is a fixed-size RGBA canvas.
type Surface struct {
	img *image.RGBA
}

// New allocates a width x height surface. maxPixels <= 0 means DefaultMaxPixels.
func New(width, height, maxPixels int) (s *Surface, err error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrCanvasUnavailable, width, height)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width > maxPixels/height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrCanvasUnavailable, width, height, maxPixels)
	}

	// Turn an allocation panic into an error for this image only.
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = fmt.Errorf("%w: %v", ErrCanvasUnavailable, r)
		}
	}()
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

// Width of the surface in pixels.
func (s *Surface) Width() int { return s.img.Rect.Dx() }

// Height of the surface in pixels.
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Image exposes the backing buffer. Edits through it are visible to the surface.
func (s *Surface) Image() *image.RGBA { return s.img }

// Fill paints every pixel with c.
func (s *Surface) Fill(c color.Color) {
	r, g, b, a := c.RGBA()
	px := [4]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	pix := s.img.Pix
	if len(pix) == 0 {
		return
	}
	copy(pix[:4], px[:])
	// Double the filled prefix until the buffer is full.
	for n := 4; n < len(pix); n *= 2 {
		copy(pix[n:], pix[:n])
	}
}

// DrawScaledTranslated draws src so that source pixel p lands on
// t.Apply(p), using bilinear sampling. Pixels outside the canvas are
// dropped and transparent source pixels keep what is already there.
func (s *Surface) DrawScaledTranslated(src image.Image, t types.Transform) {
	b := src.Bounds()
	// Source points are relative to b.Min; the matrix takes absolute ones.
	m := f64.Aff3{
		t.Scale, 0, t.DX - float64(b.Min.X)*t.Scale,
		0, t.Scale, t.DY - float64(b.Min.Y)*t.Scale,
	}
	xdraw.BiLinear.Transform(s.img, m, src, b, xdraw.Over, nil)
}

// ReadPixels copies out the RGBA bytes of the whole surface.
func (s *Surface) ReadPixels() []byte {
	out := make([]byte, len(s.img.Pix))
	copy(out, s.img.Pix)
	return out
}

// WritePixels replaces the surface contents. pix must be Width*Height*4 bytes.
func (s *Surface) WritePixels(pix []byte) error {
	if len(pix) != len(s.img.Pix) {
		return fmt.Errorf("pixel buffer is %d bytes, surface needs %d", len(pix), len(s.img.Pix))
	}
	copy(s.img.Pix, pix)
	return nil
}

// ParseHexColor reads "#rrggbb" or "#rgb" (the leading # is optional) as an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if !isHexColor(digits) {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #rgb or #rrggbb", s)
	}
	c, err := colorful.Hex("#" + digits)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// colorful.Hex scans with Sscanf and ignores trailing or missing digits.
func isHexColor(digits string) bool {
	if len(digits) != 3 && len(digits) != 6 {
		return false
	}
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
