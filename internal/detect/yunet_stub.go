//go:build !gocv

package detect

import "errors"

// ErrNoGoCV is returned for the yunet backend in builds without -tags gocv.
var ErrNoGoCV = errors.New("yunet backend requires a build with -tags gocv")

func NewYuNetBackend(modelPath string, scoreThreshold float32) (Backend, error) {
	return nil, ErrNoGoCV
}
