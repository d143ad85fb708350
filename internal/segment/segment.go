// Package segment produces person masks. Like detect, it degrades to "no
// mask" instead of failing.
package segment

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/passport/internal/model"
	"github.com/andresmejia3/passport/internal/worker"
	"github.com/rs/zerolog"
)

// Backend is a loaded segmentation model. Mask values <= 0 are background.
type Backend interface {
	Segment(ctx context.Context, img image.Image) (*image.Alpha, error)
}

type Adapter struct {
	handle *model.Handle[Backend]
	log    zerolog.Logger

	mu      sync.Mutex
	lastErr error
}

func NewAdapter(handle *model.Handle[Backend], log zerolog.Logger) *Adapter {
	return &Adapter{handle: handle, log: log.With().Str("component", "segment").Logger()}
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

// Segment returns a mask with the same bounds as img, or nil.
func (a *Adapter) Segment(ctx context.Context, img image.Image) *image.Alpha {
	if a == nil || a.handle == nil {
		return nil
	}

	var mask *image.Alpha
	err := a.handle.Use(ctx, func(b Backend) error {
		var err error
		mask, err = b.Segment(ctx, img)
		return err
	})
	if err != nil {
		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
		a.log.Warn().Err(err).Str("model", a.handle.Name()).Msg("segmentation unavailable, keeping background")
		return nil
	}
	if mask == nil {
		return nil
	}

	want := img.Bounds()
	if mask.Bounds().Size() != want.Size() {
		a.log.Warn().
			Str("mask", mask.Bounds().String()).
			Str("image", want.String()).
			Msg("mask size does not match image, ignoring it")
		return nil
	}
	// Align the mask origin with the image so the two index identically.
	if mask.Bounds().Min != want.Min {
		mask.Rect = want
	}
	return mask
}

// Backend names.
const (
	BackendWorker = "worker"
	BackendNone   = "none"
)

// WorkerBackend runs segmentation in the Python model worker.
type WorkerBackend struct {
	w *worker.PythonWorker
}

func NewWorkerBackend(w *worker.PythonWorker) *WorkerBackend { return &WorkerBackend{w: w} }

func (b *WorkerBackend) Segment(ctx context.Context, img image.Image) (*image.Alpha, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.w.Segment(img)
}

func (b *WorkerBackend) Close() error { return b.w.Close() }

// Worker exposes the process so crash logs can be reported.
func (b *WorkerBackend) Worker() *worker.PythonWorker { return b.w }

// NewLoader returns the loader for a backend name, or nil, nil for "none".
func NewLoader(backend string, cfg worker.Config) (model.Loader[Backend], error) {
	switch backend {
	case BackendWorker, "":
		return func(ctx context.Context) (Backend, error) {
			w, err := worker.NewPythonWorker(ctx, 1, cfg)
			if err != nil {
				return nil, err
			}
			return NewWorkerBackend(w), nil
		}, nil
	case BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown segmenter backend %q", backend)
}
