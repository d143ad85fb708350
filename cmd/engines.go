package cmd

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/passport/internal/config"
	"github.com/andresmejia3/passport/internal/detect"
	"github.com/andresmejia3/passport/internal/model"
	"github.com/andresmejia3/passport/internal/pipeline"
	"github.com/andresmejia3/passport/internal/segment"
	"github.com/andresmejia3/passport/internal/utils"
	"github.com/andresmejia3/passport/internal/worker"
	"github.com/rs/zerolog"
)

// engines holds the lazily loaded models for one command run.
type engines struct {
	detectHandle  *model.Handle[detect.Backend]
	segmentHandle *model.Handle[segment.Backend]
	detector      *detect.Adapter
	segmenter     *segment.Adapter

	Detector  pipeline.FaceDetector
	Segmenter pipeline.Segmenter
}

// workerBacked is a backend running in the Python worker.
type workerBacked interface {
	Worker() *worker.PythonWorker
}

type modelFailure struct {
	name string
	err  error
	cmd  *utils.SafeCommand
}

// failureOf reports the last failure seen through a handle, with the
// worker process attached when the loaded backend has one.
func failureOf[T any](h *model.Handle[T], err error) (modelFailure, bool) {
	if h == nil || err == nil {
		return modelFailure{}, false
	}
	f := modelFailure{name: h.Name(), err: err}
	if inst, ok := h.Instance(); ok {
		if wb, ok := any(inst).(workerBacked); ok && wb.Worker() != nil {
			f.cmd = wb.Worker().Cmd
		}
	}
	return f, true
}

func workerConfig(c *config.Config) worker.Config {
	return worker.Config{Python: c.Worker.Python, Script: c.Worker.Script}
}

func detectConfig(c *config.Config) detect.Config {
	pc := detect.DefaultPigoConfig()
	pc.CascadeDir = c.Detector.CascadeDir
	if c.Detector.MinSize > 0 {
		pc.MinSize = c.Detector.MinSize
	}
	if c.Detector.MaxSize > 0 {
		pc.MaxSize = c.Detector.MaxSize
	}
	pc.MinScore = c.Detector.MinScore

	return detect.Config{
		Backend:        c.Detector.Backend,
		Pigo:           pc,
		ModelPath:      c.Detector.ModelPath,
		ScoreThreshold: c.Detector.ScoreThreshold,
		Worker:         workerConfig(c),
	}
}

// newEngines prepares handles for the configured backends. Nothing is
// loaded until the first image needs it. withSegmenter is false for
// commands that never composite.
func newEngines(c *config.Config, log zerolog.Logger, withSegmenter bool) (*engines, error) {
	e := &engines{}

	dl, err := detect.NewLoader(detectConfig(c))
	if err != nil {
		return nil, err
	}
	if dl != nil {
		e.detectHandle = model.NewHandle(c.Detector.Backend+"-detector", dl)
		e.detector = detect.NewAdapter(e.detectHandle, log)
		e.Detector = e.detector
	}

	if withSegmenter {
		sl, err := segment.NewLoader(c.Segmenter.Backend, workerConfig(c))
		if err != nil {
			return nil, err
		}
		if sl != nil {
			e.segmentHandle = model.NewHandle(c.Segmenter.Backend+"-segmenter", sl)
			e.segmenter = segment.NewAdapter(e.segmentHandle, log)
			e.Segmenter = e.segmenter
		}
	}
	return e, nil
}

// Close releases every loaded model, killing worker processes, then
// prints an error box for each model that failed during the run. Worker
// stderr is only complete once the process has been waited on.
func (e *engines) Close() error {
	var failures []modelFailure
	if f, ok := failureOf(e.detectHandle, e.detector.Err()); ok {
		failures = append(failures, f)
	}
	if f, ok := failureOf(e.segmentHandle, e.segmenter.Err()); ok {
		failures = append(failures, f)
	}

	var errs []error
	if e.detectHandle != nil {
		errs = append(errs, e.detectHandle.Close())
	}
	if e.segmentHandle != nil {
		errs = append(errs, e.segmentHandle.Close())
	}

	for _, f := range failures {
		context := fmt.Sprintf("Model %s failed", f.name)
		if f.cmd != nil {
			context = fmt.Sprintf("Model worker %s failed", f.name)
		}
		utils.ShowError(context, f.err, f.cmd)
	}
	return errors.Join(errs...)
}
