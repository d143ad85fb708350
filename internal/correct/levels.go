// Package correct holds the in-place color fixes applied to the finished canvas.
package correct

import (
	"image"
	"math"
)

// LevelsSampleEvery is the pixel stride used when measuring the luma range.
const LevelsSampleEvery = 4

// Luma is the Rec. 709 weighted brightness of an RGB triple.
func Luma(r, g, b uint8) float64 {
	return 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
}

// LumaRange samples every LevelsSampleEvery-th pixel (counted row-major over
// the whole image) and returns the lowest and highest luma seen.
func LumaRange(img *image.RGBA) (lo, hi float64) {
	lo, hi = 255, 0
	b := img.Rect
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		// First sampled column of this row keeps the global pixel count aligned.
		start := (LevelsSampleEvery - (y*w)%LevelsSampleEvery) % LevelsSampleEvery
		for x := start; x < w; x += LevelsSampleEvery {
			i := x * 4
			v := Luma(row[i], row[i+1], row[i+2])
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

// AutoLevels stretches R, G and B so the sampled luma range covers 0..255.
// Near-flat images (range <= 1) are left byte-identical. Alpha is never
// touched. It reports whether the image was changed.
func AutoLevels(img *image.RGBA) bool {
	lo, hi := LumaRange(img)
	if hi <= lo+1 {
		return false
	}
	scale := 255 / (hi - lo)

	var lut [256]uint8
	for c := range lut {
		lut[c] = clampRound((float64(c) - lo) * scale)
	}

	b := img.Rect
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			row[i] = lut[row[i]]
			row[i+1] = lut[row[i+1]]
			row[i+2] = lut[row[i+2]]
		}
	}
	return true
}

// clampRound clamps to 0..255 and rounds half to even, the way a clamped
// byte store does.
func clampRound(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.RoundToEven(v))
}
