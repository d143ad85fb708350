// Package pipeline runs one photo through detection, segmentation,
// compositing and correction, and encodes the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/passport/internal/codec"
	"github.com/andresmejia3/passport/internal/compose"
	"github.com/andresmejia3/passport/internal/correct"
	"github.com/andresmejia3/passport/internal/raster"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/rs/zerolog"
)

// ErrMalformedInput is returned before any model runs when the image or
// target spec cannot be processed.
var ErrMalformedInput = errors.New("malformed input")

// FaceDetector returns the face anchor of img, or nil.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) *types.FaceAnchor
}

// Segmenter returns a person mask for img, or nil.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) *image.Alpha
}

// Stage names one step of the per-image state machine.
type Stage string

const (
	StageInit          Stage = "init"
	StageDetectFace    Stage = "detect_face"
	StageSegment       Stage = "segment"
	StageComposite     Stage = "composite"
	StageColorCorrect  Stage = "color_correct"
	StageRedEyeCorrect Stage = "red_eye_correct"
	StageEncode        Stage = "encode"
	StageDone          Stage = "done"
)

// Options are the per-run settings shared by every image of a batch.
type Options struct {
	Spec       types.TargetSpec
	Toggles    types.Toggles
	Background color.Color // nil means white
	Format     codec.Format
	Quality    int
}

// Result is the outcome for one image.
type Result struct {
	Encoded      []byte
	Canvas       *image.RGBA
	Transform    types.Transform
	Anchor       *types.FaceAnchor
	Guides       *types.Guides // set when eye guides are on
	MaskApplied  bool
	Leveled      bool
	RedEyePixels int
	Stages       []Stage
}

// Config wires the orchestrator. Nil adapters mean the capability is absent.
type Config struct {
	Detector        FaceDetector
	Segmenter       Segmenter
	MaxCanvasPixels int
	Logger          zerolog.Logger
}

type Orchestrator struct {
	detector  FaceDetector
	segmenter Segmenter
	maxPixels int
	log       zerolog.Logger
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		detector:  cfg.Detector,
		segmenter: cfg.Segmenter,
		maxPixels: cfg.MaxCanvasPixels,
		log:       cfg.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Anchoring reports whether the face, when found, drives the scale.
func Anchoring(tg types.Toggles) bool {
	return tg.AutoCenter || tg.FaceCrop
}

func validate(src image.Image, opts Options) error {
	if src == nil {
		return fmt.Errorf("%w: no image", ErrMalformedInput)
	}
	if b := src.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: image is %dx%d", ErrMalformedInput, b.Dx(), b.Dy())
	}
	if err := opts.Spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return nil
}

// Process normalizes one image. Detection and segmentation failures only
// degrade the result; the returned error is non-nil for malformed input,
// canvas allocation failure or an encoder error.
func (o *Orchestrator) Process(ctx context.Context, src image.Image, opts Options) (*Result, error) {
	if err := validate(src, opts); err != nil {
		return nil, err
	}

	res := &Result{Stages: []Stage{StageInit}}
	tg := opts.Toggles
	b := src.Bounds()
	log := o.log.With().Str("preset", opts.Spec.Name).Logger()

	// 1. Face
	if tg.FaceCrop || tg.AutoCenter || tg.RedEye {
		res.Stages = append(res.Stages, StageDetectFace)
		if o.detector != nil {
			res.Anchor = o.detector.Detect(ctx, src)
		}
		if res.Anchor == nil {
			log.Debug().Msg("no face anchor, falling back to cover fit")
		}
	}

	// 2. Background
	drawSrc := src
	if tg.BgRemove {
		res.Stages = append(res.Stages, StageSegment)
		var mask *image.Alpha
		if o.segmenter != nil {
			mask = o.segmenter.Segment(ctx, src)
		}
		if mask != nil {
			masked, err := compose.ApplyMask(src, mask)
			if err != nil {
				log.Warn().Err(err).Msg("ignoring mask")
			} else {
				drawSrc = masked
				res.MaskApplied = true
			}
		}
	}

	// 3. Composite
	res.Stages = append(res.Stages, StageComposite)
	surface, err := raster.New(opts.Spec.Width, opts.Spec.Height, o.maxPixels)
	if err != nil {
		return nil, err
	}
	bg := opts.Background
	if bg == nil {
		bg = color.White
	}
	surface.Fill(bg)

	res.Transform = compose.ComputeTransform(b.Dx(), b.Dy(), res.Anchor, opts.Spec, Anchoring(tg))
	surface.DrawScaledTranslated(drawSrc, res.Transform)
	log.Debug().
		Float64("scale", res.Transform.Scale).
		Float64("dx", res.Transform.DX).
		Float64("dy", res.Transform.DY).
		Bool("anchored", res.Anchor.HasAnchor()).
		Msg("composited")

	// 4. Lighting
	if tg.Lighting {
		res.Stages = append(res.Stages, StageColorCorrect)
		res.Leveled = correct.AutoLevels(surface.Image())
	}

	// 5. Red-eye, in canvas coordinates
	if tg.RedEye && res.Anchor.HasEyes() {
		res.Stages = append(res.Stages, StageRedEyeCorrect)
		left := res.Transform.Apply(*res.Anchor.LeftEye)
		right := res.Transform.Apply(*res.Anchor.RightEye)
		res.RedEyePixels = correct.ReduceRedEye(surface.Image(), left, right)
	}

	if tg.EyeGuides {
		g := opts.Spec.Guides()
		res.Guides = &g
	}

	// 6. Encode
	res.Stages = append(res.Stages, StageEncode)
	format := opts.Format
	if format == "" {
		format = codec.JPEG
	}
	res.Canvas = surface.Image()
	res.Encoded, err = codec.EncodeBytes(res.Canvas, format, opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	res.Stages = append(res.Stages, StageDone)
	return res, nil
}
