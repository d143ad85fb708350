package compose

import (
	"errors"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"
)

// ErrMaskSize is returned when the mask and source differ in size.
var ErrMaskSize = errors.New("mask size does not match source")

// ApplyMask copies src and clears alpha wherever the mask is background
// (value 0). Foreground pixels keep their own alpha. The result has the same
// bounds as src.
func ApplyMask(src image.Image, mask *image.Alpha) (*image.NRGBA, error) {
	b := src.Bounds()
	if mask == nil || mask.Bounds().Size() != b.Size() {
		var got image.Point
		if mask != nil {
			got = mask.Bounds().Size()
		}
		return nil, fmt.Errorf("%w: mask %v, source %v", ErrMaskSize, got, b.Size())
	}

	out := image.NewNRGBA(b)
	xdraw.Draw(out, b, src, b.Min, xdraw.Src)

	for y := 0; y < b.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		mrow := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for x := range mrow {
			if mrow[x] == 0 {
				row[x*4+3] = 0
			}
		}
	}
	return out, nil
}
