package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/passport/internal/model"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/andresmejia3/passport/internal/worker"
)

// Config selects and configures a backend.
type Config struct {
	Backend        string // pigo, yunet, worker or none
	Pigo           PigoConfig
	ModelPath      string  // YuNet onnx file
	ScoreThreshold float64 // YuNet confidence
	Worker         worker.Config
}

// Backend names.
const (
	BackendPigo   = "pigo"
	BackendYuNet  = "yunet"
	BackendWorker = "worker"
	BackendNone   = "none"
)

// WorkerBackend runs detection in the Python model worker.
type WorkerBackend struct {
	w *worker.PythonWorker
}

func NewWorkerBackend(w *worker.PythonWorker) *WorkerBackend { return &WorkerBackend{w: w} }

func (b *WorkerBackend) Detect(ctx context.Context, img image.Image) ([]types.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.w.Detect(img)
}

func (b *WorkerBackend) Close() error { return b.w.Close() }

// Worker exposes the process so crash logs can be reported.
func (b *WorkerBackend) Worker() *worker.PythonWorker { return b.w }

// NewLoader returns the loader for cfg.Backend. It returns nil, nil for
// "none" so callers can skip detection entirely.
func NewLoader(cfg Config) (model.Loader[Backend], error) {
	switch cfg.Backend {
	case BackendPigo, "":
		return func(ctx context.Context) (Backend, error) {
			return NewPigoBackend(cfg.Pigo)
		}, nil
	case BackendYuNet:
		return func(ctx context.Context) (Backend, error) {
			return NewYuNetBackend(cfg.ModelPath, float32(cfg.ScoreThreshold))
		}, nil
	case BackendWorker:
		return func(ctx context.Context) (Backend, error) {
			w, err := worker.NewPythonWorker(ctx, 0, cfg.Worker)
			if err != nil {
				return nil, err
			}
			return NewWorkerBackend(w), nil
		}, nil
	case BackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
}
