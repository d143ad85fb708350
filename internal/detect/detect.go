// Package detect turns the raw output of a face model into the anchor used
// to align a photo. Backends are swappable; the adapter never fails, it
// reports "no anchor" instead.
package detect

import (
	"context"
	"image"
	"strings"
	"sync"

	"github.com/andresmejia3/passport/internal/model"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/rs/zerolog"
)

// Backend is a loaded face model.
type Backend interface {
	Detect(ctx context.Context, img image.Image) ([]types.Face, error)
}

// Adapter wraps a lazily loaded backend.
type Adapter struct {
	handle *model.Handle[Backend]
	log    zerolog.Logger

	mu      sync.Mutex
	lastErr error
}

func NewAdapter(handle *model.Handle[Backend], log zerolog.Logger) *Adapter {
	return &Adapter{handle: handle, log: log.With().Str("component", "detect").Logger()}
}

// Err returns the most recent load or inference failure, or nil.
func (a *Adapter) Err() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Detect returns the anchor of the best face, or nil when the model is
// unavailable, inference fails or no face is found.
func (a *Adapter) Detect(ctx context.Context, img image.Image) *types.FaceAnchor {
	if a == nil || a.handle == nil {
		return nil
	}

	var faces []types.Face
	err := a.handle.Use(ctx, func(b Backend) error {
		var err error
		faces, err = b.Detect(ctx, img)
		return err
	})
	if err != nil {
		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
		a.log.Warn().Err(err).Str("model", a.handle.Name()).Msg("face detection unavailable, using cover fit")
		return nil
	}

	best, ok := BestFace(faces)
	if !ok {
		a.log.Debug().Msg("no face found")
		return nil
	}
	anchor := AnchorFromFace(best)
	a.log.Debug().
		Float64("score", best.Score).
		Bool("eyes", anchor.HasEyes()).
		Int("keypoints", len(best.Keypoints)).
		Msg("face detected")
	return anchor
}

// BestFace picks the highest scoring face. Ties keep the earlier one.
func BestFace(faces []types.Face) (types.Face, bool) {
	if len(faces) == 0 {
		return types.Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return best, true
}

// AnchorFromFace keeps the box and resolves both eye centers. If either eye
// is missing, neither is reported.
func AnchorFromFace(f types.Face) *types.FaceAnchor {
	box := f.Box
	anchor := &types.FaceAnchor{Box: &box}

	left, okL := EyeCenter(f.Keypoints, "left")
	right, okR := EyeCenter(f.Keypoints, "right")
	if okL && okR {
		anchor.LeftEye = &left
		anchor.RightEye = &right
	}
	return anchor
}

// EyeCenter averages every keypoint whose lower-cased name contains both
// side and "eye", so models with several points per eye and models with a
// single pupil point resolve the same way.
func EyeCenter(keypoints []types.Keypoint, side string) (types.Point, bool) {
	side = strings.ToLower(side)
	var sumX, sumY float64
	var n int
	for _, kp := range keypoints {
		name := strings.ToLower(kp.Name)
		if strings.Contains(name, side) && strings.Contains(name, "eye") {
			sumX += kp.X
			sumY += kp.Y
			n++
		}
	}
	if n == 0 {
		return types.Point{}, false
	}
	return types.Point{X: sumX / float64(n), Y: sumY / float64(n)}, true
}
