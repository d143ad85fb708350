package correct

import (
	"image"
	"math"

	"github.com/andresmejia3/passport/internal/types"
)

const (
	// RedDominance is how many times larger red must be than both green and
	// blue for a pixel to count as red-eye.
	RedDominance = 1.4
	// MinEyePatch is the smallest patch side in pixels.
	MinEyePatch = 14
	// EyePatchFraction sizes the patch relative to the canvas width.
	EyePatchFraction = 0.06
)

// EyePatchSize is the side of the square searched around each eye.
func EyePatchSize(canvasWidth int) int {
	return max(MinEyePatch, roundHalfUp(float64(canvasWidth)*EyePatchFraction))
}

// EyePatch is the patch around a canvas-space eye, clipped to bounds.
// The result may be empty.
func EyePatch(bounds image.Rectangle, eye types.Point) image.Rectangle {
	size := EyePatchSize(bounds.Dx())
	x0 := max(0, roundHalfUp(eye.X-float64(size)/2))
	y0 := max(0, roundHalfUp(eye.Y-float64(size)/2))
	r := image.Rect(x0, y0, x0+size, y0+size).Add(bounds.Min)
	return r.Intersect(bounds)
}

// ReduceRedEye desaturates red-dominant pixels inside the patch around each
// eye. Eyes must already be in canvas coordinates. Pixels outside the patches
// are never read or written. It returns the number of pixels changed.
func ReduceRedEye(img *image.RGBA, eyes ...types.Point) int {
	changed := 0
	for _, eye := range eyes {
		rect := EyePatch(img.Rect, eye)
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			i0 := img.PixOffset(rect.Min.X, y)
			row := img.Pix[i0 : i0+rect.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				r, g, b := float64(row[i]), float64(row[i+1]), float64(row[i+2])
				if r > g*RedDominance && r > b*RedDominance {
					row[i] = uint8((int(row[i+1]) + int(row[i+2]) + 1) / 2)
					changed++
				}
			}
		}
	}
	return changed
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
