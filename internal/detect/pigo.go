package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/andresmejia3/passport/internal/types"
	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
)

// PigoConfig tunes the pure-Go cascade detector.
type PigoConfig struct {
	CascadeDir  string
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	IoU         float64
	MinScore    float64
}

// DefaultPigoConfig matches the values the pigo examples ship with.
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		CascadeDir:  "cascade",
		MinSize:     40,
		MaxSize:     2000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
		MinScore:    5.0,
	}
}

// PigoBackend finds faces with the "facefinder" cascade and, when the
// "puploc" cascade is present, localizes both pupils.
type PigoBackend struct {
	cfg        PigoConfig
	classifier *pigo.Pigo
	puploc     *pigo.PuplocCascade
}

// NewPigoBackend unpacks the cascades found in cfg.CascadeDir.
func NewPigoBackend(cfg PigoConfig) (*PigoBackend, error) {
	faceFinder, err := os.ReadFile(filepath.Join(cfg.CascadeDir, "facefinder"))
	if err != nil {
		return nil, fmt.Errorf("error reading the cascade file: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(faceFinder)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}

	b := &PigoBackend{cfg: cfg, classifier: classifier}

	// Pupil localization is optional: without it faces carry only a box.
	if data, err := os.ReadFile(filepath.Join(cfg.CascadeDir, "puploc")); err == nil {
		plc, err := pigo.NewPuplocCascade().UnpackCascade(data)
		if err != nil {
			return nil, fmt.Errorf("error unpacking the puploc cascade: %w", err)
		}
		b.puploc = plc
	}
	return b, nil
}

func (b *PigoBackend) Detect(ctx context.Context, img image.Image) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(src),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     b.cfg.MinSize,
		MaxSize:     b.cfg.MaxSize,
		ShiftFactor: b.cfg.ShiftFactor,
		ScaleFactor: b.cfg.ScaleFactor,
		ImageParams: imgParams,
	}

	// Detections are quadruplets of row, column, scale and score.
	dets := b.classifier.RunCascade(cParams, 0.0)
	dets = b.classifier.ClusterDetections(dets, b.cfg.IoU)

	var faces []types.Face
	for _, det := range dets {
		if float64(det.Q) < b.cfg.MinScore {
			continue
		}
		scale := float64(det.Scale)
		face := types.Face{
			Box: types.Box{
				X:      float64(det.Col) - scale/2,
				Y:      float64(det.Row) - scale/2,
				Width:  scale,
				Height: scale,
			},
			Score: float64(det.Q),
		}
		if b.puploc != nil {
			face.Keypoints = b.pupils(det, imgParams)
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// pupils runs the pupil cascade at the usual offsets from the face center.
// Left and right are as seen in the image.
func (b *PigoBackend) pupils(det pigo.Detection, imgParams pigo.ImageParams) []types.Keypoint {
	var kps []types.Keypoint
	for _, eye := range []struct {
		name string
		sign int
	}{
		{"left_eye_pupil", -1},
		{"right_eye_pupil", 1},
	} {
		pl := pigo.Puploc{
			Row:      det.Row - int(0.085*float32(det.Scale)),
			Col:      det.Col + eye.sign*int(0.185*float32(det.Scale)),
			Scale:    float32(det.Scale) * 0.4,
			Perturbs: 63,
		}
		found := b.puploc.RunDetector(pl, imgParams, 0.0, false)
		if found != nil && found.Row > 0 && found.Col > 0 {
			kps = append(kps, types.Keypoint{Name: eye.name, X: float64(found.Col), Y: float64(found.Row)})
		}
	}
	return kps
}
