package pipeline

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Job is one image of a batch. Load is called on the worker goroutine so
// decoding runs in parallel too.
type Job struct {
	Name string
	Load func(ctx context.Context) (image.Image, error)
}

// BatchResult pairs a job with its outcome. Exactly one of Result and Err is set.
type BatchResult struct {
	Name   string
	Result *Result
	Err    error
}

// Batch processes jobs with at most limit images in flight (limit <= 0 means
// GOMAXPROCS). A failing image never stops the others. onDone, if set, is
// called once per job as it finishes; calls are serialized. Results are
// returned in job order.
func (o *Orchestrator) Batch(ctx context.Context, jobs []Job, opts Options, limit int, onDone func(BatchResult)) []BatchResult {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]BatchResult, len(jobs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			r := o.runJob(ctx, job, opts)
			results[i] = r
			if onDone != nil {
				mu.Lock()
				onDone(r)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) runJob(ctx context.Context, job Job, opts Options) (br BatchResult) {
	br.Name = job.Name
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("image", job.Name).Interface("panic", r).Msg("image processing panicked")
			br.Result = nil
			br.Err = fmt.Errorf("processing %s panicked: %v", job.Name, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		br.Err = err
		return br
	}
	if job.Load == nil {
		br.Err = fmt.Errorf("%w: no loader for %s", ErrMalformedInput, job.Name)
		return br
	}
	img, err := job.Load(ctx)
	if err != nil {
		br.Err = fmt.Errorf("load %s: %w", job.Name, err)
		return br
	}
	br.Result, br.Err = o.Process(ctx, img, opts)
	if br.Err != nil {
		o.log.Warn().Err(br.Err).Str("image", job.Name).Msg("image failed")
	}
	return br
}
