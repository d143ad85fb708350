//go:build gocv

package detect

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/passport/internal/types"
	"gocv.io/x/gocv"
)

// YuNet output row: [x, y, w, h, x_re, y_re, x_le, y_le, x_nt, y_nt, x_rcm, y_rcm, x_lcm, y_lcm, score]
var yunetLandmarks = []string{"right_eye", "left_eye", "nose_tip", "right_mouth", "left_mouth"}

// YuNetBackend wraps OpenCV's FaceDetectorYN. Built only with -tags gocv.
type YuNetBackend struct {
	detector gocv.FaceDetectorYN
}

func NewYuNetBackend(modelPath string, scoreThreshold float32) (Backend, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	det := gocv.NewFaceDetectorYN(modelPath, "", image.Pt(320, 320))
	if scoreThreshold > 0 {
		det.SetScoreThreshold(scoreThreshold)
	}
	det.SetNMSThreshold(0.3)
	det.SetTopK(50)
	return &YuNetBackend{detector: det}, nil
}

func (b *YuNetBackend) Detect(ctx context.Context, img image.Image) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	b.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))

	out := gocv.NewMat()
	defer out.Close()
	b.detector.Detect(mat, &out)

	var faces []types.Face
	for i := 0; i < out.Rows(); i++ {
		face := types.Face{
			Box: types.Box{
				X:      float64(out.GetFloatAt(i, 0)),
				Y:      float64(out.GetFloatAt(i, 1)),
				Width:  float64(out.GetFloatAt(i, 2)),
				Height: float64(out.GetFloatAt(i, 3)),
			},
			Score: float64(out.GetFloatAt(i, 14)),
		}
		for k, name := range yunetLandmarks {
			face.Keypoints = append(face.Keypoints, types.Keypoint{
				Name: name,
				X:    float64(out.GetFloatAt(i, 4+2*k)),
				Y:    float64(out.GetFloatAt(i, 5+2*k)),
			})
		}
		faces = append(faces, face)
	}
	return faces, nil
}

func (b *YuNetBackend) Close() error {
	b.detector.Close()
	return nil
}
