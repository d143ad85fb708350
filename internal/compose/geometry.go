// Package compose places a source photo on the output canvas.
package compose

import (
	"math"

	"github.com/andresmejia3/passport/internal/types"
)

// FaceMargin shrinks the anchored scale so the detected box, which is
// usually tighter than forehead-to-chin, does not overfill the face band.
const FaceMargin = 0.85

// FallbackFaceFraction is the assumed face height, as a share of the source
// height, when no usable box is available.
const FallbackFaceFraction = 0.6

// EyeFromBoxTop places the eye line this far down a face box.
const EyeFromBoxTop = 0.35

// ComputeTransform derives scale and offset that put the face of a w x h
// source onto spec. When anchoring is requested and the anchor carries a
// box or both eyes, the face is scaled into the top-to-chin band; otherwise
// the source is cover-fitted. In both cases the eye point is placed at
// (CenterFraction, EyeFraction) of the canvas.
func ComputeTransform(w, h int, anchor *types.FaceAnchor, spec types.TargetSpec, anchoring bool) types.Transform {
	sw, sh := float64(w), float64(h)
	tw, th := float64(spec.Width), float64(spec.Height)

	var box *types.Box
	if anchor != nil {
		box = anchor.Box
	}

	faceHeight := FallbackFaceFraction * sh
	if box != nil && box.Height > 0 {
		faceHeight = box.Height
	}
	desired := th * (spec.ChinFraction - spec.TopFraction)

	var scale float64
	if anchoring && anchor.HasAnchor() {
		scale = desired / faceHeight * FaceMargin
	} else {
		scale = math.Max(tw/sw, th/sh)
	}

	eye := EyePoint(w, h, anchor)
	return types.Transform{
		Scale: scale,
		DX:    tw*spec.CenterFraction - eye.X*scale,
		DY:    th*spec.EyeFraction - eye.Y*scale,
	}
}

// EyePoint is the source point aligned with the canvas eye line: the mean
// of both eyes, else a point inside the box, else the image center.
func EyePoint(w, h int, anchor *types.FaceAnchor) types.Point {
	switch {
	case anchor.HasEyes():
		return types.Point{
			X: (anchor.LeftEye.X + anchor.RightEye.X) / 2,
			Y: (anchor.LeftEye.Y + anchor.RightEye.Y) / 2,
		}
	case anchor != nil && anchor.Box != nil:
		b := anchor.Box
		return types.Point{X: b.X + b.Width/2, Y: b.Y + b.Height*EyeFromBoxTop}
	}
	return types.Point{X: float64(w) / 2, Y: float64(h) / 2}
}
