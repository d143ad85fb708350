package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/passport/internal/codec"
	"github.com/andresmejia3/passport/internal/correct"
	"github.com/andresmejia3/passport/internal/raster"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/rs/zerolog"
)

type fakeDetector struct {
	anchor *types.FaceAnchor
	calls  atomic.Int32
}

func (f *fakeDetector) Detect(ctx context.Context, img image.Image) *types.FaceAnchor {
	f.calls.Add(1)
	return f.anchor
}

type fakeSegmenter struct {
	mask  func(b image.Rectangle) *image.Alpha
	calls atomic.Int32
}

func (f *fakeSegmenter) Segment(ctx context.Context, img image.Image) *image.Alpha {
	f.calls.Add(1)
	if f.mask == nil {
		return nil
	}
	return f.mask(img.Bounds())
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newOrchestrator(d FaceDetector, s Segmenter) *Orchestrator {
	return New(Config{Detector: d, Segmenter: s, Logger: zerolog.Nop()})
}

func opts(preset string, tg types.Toggles) Options {
	return Options{Spec: types.Presets[preset], Toggles: tg, Format: codec.PNG}
}

func TestProcess_OutputDimensions(t *testing.T) {
	anchor := &types.FaceAnchor{
		Box:      &types.Box{X: 200, Y: 150, Width: 300, Height: 360},
		LeftEye:  &types.Point{X: 290, Y: 280},
		RightEye: &types.Point{X: 410, Y: 282},
	}
	sources := []image.Image{
		solid(640, 480, color.RGBA{90, 120, 200, 255}),
		solid(77, 1200, color.RGBA{10, 200, 30, 255}),
		solid(3, 3, color.RGBA{255, 0, 0, 255}),
	}
	toggles := []types.Toggles{
		{},
		types.DefaultToggles(),
		{AutoCenter: true},
		{BgRemove: true, Lighting: true},
		{RedEye: true},
	}

	o := newOrchestrator(&fakeDetector{anchor: anchor}, &fakeSegmenter{mask: func(b image.Rectangle) *image.Alpha {
		return image.NewAlpha(b)
	}})

	for _, name := range types.PresetNames() {
		spec := types.Presets[name]
		for si, src := range sources {
			for ti, tg := range toggles {
				res, err := o.Process(context.Background(), src, opts(name, tg))
				if err != nil {
					t.Fatalf("%s source %d toggles %d: %v", name, si, ti, err)
				}
				if res.Canvas.Bounds() != image.Rect(0, 0, spec.Width, spec.Height) {
					t.Errorf("%s: canvas %v, expected %dx%d", name, res.Canvas.Bounds(), spec.Width, spec.Height)
				}
				cfg, _, err := image.DecodeConfig(bytes.NewReader(res.Encoded))
				if err != nil {
					t.Fatalf("decode encoded output: %v", err)
				}
				if cfg.Width != spec.Width || cfg.Height != spec.Height {
					t.Errorf("%s: encoded %dx%d, expected %dx%d", name, cfg.Width, cfg.Height, spec.Width, spec.Height)
				}
			}
		}
	}
}

func TestProcess_ScaleSelection(t *testing.T) {
	src := solid(800, 1000, color.RGBA{128, 128, 128, 255})
	box := &types.FaceAnchor{Box: &types.Box{X: 150, Y: 200, Width: 500, Height: 500}}

	tests := []struct {
		name   string
		anchor *types.FaceAnchor
		tg     types.Toggles
		want   float64
	}{
		{"anchored by auto center", box, types.Toggles{AutoCenter: true}, 600 * (0.74 - 0.18) / 500 * 0.85},
		{"anchored by face crop", box, types.Toggles{FaceCrop: true}, 600 * (0.74 - 0.18) / 500 * 0.85},
		{"no face means cover fit", nil, types.DefaultToggles(), 0.75},
		{"red-eye alone does not anchor", box, types.Toggles{RedEye: true}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(&fakeDetector{anchor: tt.anchor}, nil)
			res, err := o.Process(context.Background(), src, opts("usa", tt.tg))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if math.Abs(res.Transform.Scale-tt.want) > 1e-9 {
				t.Errorf("Expected scale %f, got %f", tt.want, res.Transform.Scale)
			}
		})
	}
}

func TestProcess_SkipsDisabledStages(t *testing.T) {
	det := &fakeDetector{}
	seg := &fakeSegmenter{}
	o := newOrchestrator(det, seg)

	res, err := o.Process(context.Background(), solid(100, 100, color.RGBA{1, 2, 3, 255}), opts("uk", types.Toggles{EyeGuides: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if det.calls.Load() != 0 || seg.calls.Load() != 0 {
		t.Errorf("Expected no model calls, got detect=%d segment=%d", det.calls.Load(), seg.calls.Load())
	}
	want := []Stage{StageInit, StageComposite, StageEncode, StageDone}
	if !slices.Equal(res.Stages, want) {
		t.Errorf("Expected stages %v, got %v", want, res.Stages)
	}
	if res.Guides == nil || math.Abs(res.Guides.EyeY-531*0.45) > 1e-9 {
		t.Errorf("Expected eye guide at %f, got %+v", 531*0.45, res.Guides)
	}
}

func TestProcess_StageOrder(t *testing.T) {
	anchor := &types.FaceAnchor{
		Box:      &types.Box{X: 10, Y: 10, Width: 80, Height: 80},
		LeftEye:  &types.Point{X: 35, Y: 40},
		RightEye: &types.Point{X: 65, Y: 40},
	}
	o := newOrchestrator(&fakeDetector{anchor: anchor}, &fakeSegmenter{})
	res, err := o.Process(context.Background(), solid(100, 100, color.RGBA{200, 40, 40, 255}), opts("usa", types.DefaultToggles()))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []Stage{StageInit, StageDetectFace, StageSegment, StageComposite, StageColorCorrect, StageRedEyeCorrect, StageEncode, StageDone}
	if !slices.Equal(res.Stages, want) {
		t.Errorf("Expected stages %v, got %v", want, res.Stages)
	}
	if res.RedEyePixels == 0 {
		t.Error("Expected red pixels around the eyes to be corrected")
	}
}

func paint(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func TestProcess_RedEyeRunsInCanvasCoordinates(t *testing.T) {
	red := color.RGBA{200, 40, 40, 255}
	src := solid(200, 200, color.RGBA{128, 128, 128, 255})
	// Red around each eye, wide enough to cover its mapped patch.
	paint(src, image.Rect(70, 90, 90, 110), red)
	paint(src, image.Rect(110, 90, 130, 110), red)
	// Red that lands on canvas (80,100), the unmapped eye position.
	paint(src, image.Rect(18, 36, 28, 46), red)

	anchor := &types.FaceAnchor{
		Box:      &types.Box{X: 50, Y: 50, Width: 100, Height: 100},
		LeftEye:  &types.Point{X: 80, Y: 100},
		RightEye: &types.Point{X: 120, Y: 100},
	}
	o := newOrchestrator(&fakeDetector{anchor: anchor}, nil)
	res, err := o.Process(context.Background(), src, opts("usa", types.Toggles{FaceCrop: true, RedEye: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// 600*(0.74-0.18)/100*0.85, with the eye midpoint moved to (300, 270)
	if math.Abs(res.Transform.Scale-2.856) > 1e-9 || math.Abs(res.Transform.DX-14.4) > 1e-9 || math.Abs(res.Transform.DY+15.6) > 1e-9 {
		t.Fatalf("Unexpected transform %+v", res.Transform)
	}

	changed := 0
	for _, eye := range []types.Point{*anchor.LeftEye, *anchor.RightEye} {
		patch := correct.EyePatch(res.Canvas.Bounds(), res.Transform.Apply(eye))
		if patch.Empty() {
			t.Fatalf("Patch for eye %v is empty", eye)
		}
		for y := patch.Min.Y; y < patch.Max.Y; y++ {
			for x := patch.Min.X; x < patch.Max.X; x++ {
				px := res.Canvas.RGBAAt(x, y)
				if px.R > 60 || px.G < 30 || px.G > 50 {
					t.Fatalf("Pixel (%d,%d) in mapped patch not corrected: %v", x, y, px)
				}
				changed++
			}
		}
	}
	if res.RedEyePixels < changed {
		t.Errorf("Expected at least %d corrected pixels, got %d", changed, res.RedEyePixels)
	}

	if px := res.Canvas.RGBAAt(80, 100); px.R < 190 {
		t.Errorf("Red at the raw source eye position must stay red, got %v", px)
	}
	if px := res.Canvas.RGBAAt(300, 400); px.R < 127 || px.R > 129 || px.R != px.G || px.G != px.B {
		t.Errorf("Expected neutral canvas elsewhere, got %v", px)
	}
}

func TestProcess_RedEyeNeedsBothEyes(t *testing.T) {
	anchor := &types.FaceAnchor{Box: &types.Box{X: 10, Y: 10, Width: 80, Height: 80}}
	o := newOrchestrator(&fakeDetector{anchor: anchor}, nil)
	res, err := o.Process(context.Background(), solid(100, 100, color.RGBA{200, 40, 40, 255}), opts("usa", types.Toggles{RedEye: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if slices.Contains(res.Stages, StageRedEyeCorrect) || res.RedEyePixels != 0 {
		t.Errorf("Red-eye must not run without both eyes, stages %v", res.Stages)
	}
	if px := res.Canvas.RGBAAt(300, 300); px.R != 200 {
		t.Errorf("Expected canvas untouched, got %v", px)
	}
}

func TestProcess_NoSegmentationKeepsFullOpacity(t *testing.T) {
	src := solid(400, 300, color.RGBA{20, 90, 160, 255})
	o := newOrchestrator(nil, &fakeSegmenter{}) // segmenter returns no mask

	res, err := o.Process(context.Background(), src, opts("india", types.Toggles{BgRemove: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.MaskApplied {
		t.Error("Expected no mask to be applied")
	}
	if math.Abs(res.Transform.Scale-1.77) > 1e-9 {
		t.Errorf("Expected cover fit 1.77, got %f", res.Transform.Scale)
	}
	for i := 3; i < len(res.Canvas.Pix); i += 4 {
		if res.Canvas.Pix[i] != 255 {
			t.Fatalf("Pixel %d has alpha %d, expected an opaque canvas", i/4, res.Canvas.Pix[i])
		}
	}
	// The eye line sits at 0.45, so the scaled source spans rows -26.55..504.45.
	if got := res.Canvas.RGBAAt(200, 250); got != (color.RGBA{20, 90, 160, 255}) {
		t.Errorf("Covered pixel = %v, expected the source color", got)
	}
	if got := res.Canvas.RGBAAt(200, 520); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Uncovered pixel = %v, expected the white fill", got)
	}
}

func TestProcess_MaskRevealsBackground(t *testing.T) {
	src := solid(100, 100, color.RGBA{0, 0, 0, 255})
	// Foreground is the left half only.
	seg := &fakeSegmenter{mask: func(b image.Rectangle) *image.Alpha {
		m := image.NewAlpha(b)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx()/2; x++ {
				m.Pix[y*m.Stride+x] = 255
			}
		}
		return m
	}}
	o := newOrchestrator(nil, seg)
	op := opts("usa", types.Toggles{BgRemove: true})
	op.Background = color.RGBA{R: 219, G: 233, B: 244, A: 255}

	res, err := o.Process(context.Background(), src, op)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.MaskApplied {
		t.Fatal("Expected mask to be applied")
	}
	if got := res.Canvas.RGBAAt(100, 300); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("Foreground pixel = %v, expected source black", got)
	}
	if got := res.Canvas.RGBAAt(500, 300); got != (color.RGBA{219, 233, 244, 255}) {
		t.Errorf("Background pixel = %v, expected fill color", got)
	}
}

func TestProcess_MismatchedMaskIsIgnored(t *testing.T) {
	seg := &fakeSegmenter{mask: func(b image.Rectangle) *image.Alpha {
		return image.NewAlpha(image.Rect(0, 0, 1, 1))
	}}
	o := newOrchestrator(nil, seg)
	res, err := o.Process(context.Background(), solid(50, 50, color.RGBA{5, 5, 5, 255}), opts("usa", types.Toggles{BgRemove: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.MaskApplied {
		t.Error("Expected mismatched mask to be ignored")
	}
}

func TestProcess_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		src  image.Image
		spec types.TargetSpec
	}{
		{"nil image", nil, types.Presets["usa"]},
		{"zero width", image.NewRGBA(image.Rect(0, 0, 0, 10)), types.Presets["usa"]},
		{"missing spec", solid(10, 10, color.RGBA{A: 255}), types.TargetSpec{}},
		{"inverted layout", solid(10, 10, color.RGBA{A: 255}), types.TargetSpec{Width: 10, Height: 10, TopFraction: 0.8, ChinFraction: 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &fakeDetector{}
			seg := &fakeSegmenter{}
			o := newOrchestrator(det, seg)
			_, err := o.Process(context.Background(), tt.src, Options{Spec: tt.spec, Toggles: types.DefaultToggles()})
			if !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("Expected ErrMalformedInput, got %v", err)
			}
			if det.calls.Load() != 0 || seg.calls.Load() != 0 {
				t.Error("No adapter may run for malformed input")
			}
		})
	}
}

func TestProcess_CanvasUnavailable(t *testing.T) {
	o := New(Config{MaxCanvasPixels: 1000, Logger: zerolog.Nop()})
	res, err := o.Process(context.Background(), solid(10, 10, color.RGBA{A: 255}), opts("usa", types.Toggles{}))
	if !errors.Is(err, raster.ErrCanvasUnavailable) {
		t.Fatalf("Expected ErrCanvasUnavailable, got %v", err)
	}
	if res != nil {
		t.Error("Expected no result on canvas failure")
	}
}

func TestProcess_LightingStretchesCanvas(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, color.RGBA{100, 100, 100, 255})
	src.SetRGBA(1, 0, color.RGBA{150, 150, 150, 255})
	o := newOrchestrator(nil, nil)

	res, err := o.Process(context.Background(), src, opts("usa", types.Toggles{Lighting: true}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Leveled {
		t.Fatal("Expected auto-levels to run")
	}
	// The source covers rows -30..570; the white fill below pins the top of the range.
	if got := res.Canvas.RGBAAt(0, 0).R; got != 0 {
		t.Errorf("Darkest area should stretch to 0, got %d", got)
	}
	if got := res.Canvas.RGBAAt(300, 590).R; got != 255 {
		t.Errorf("White fill should stay 255, got %d", got)
	}
	// 150 -> (150-100)*255/155 = 82.3
	if got := res.Canvas.RGBAAt(599, 300).R; got < 81 || got > 83 {
		t.Errorf("Mid tone should stretch to about 82, got %d", got)
	}
}
