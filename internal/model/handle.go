// Package model holds lazily loaded inference models that are shared by every
// image processed in the lifetime of the process.
package model

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// State is the load state of a Handle.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Loader builds the model instance. It is called at most once at a time.
type Loader[T any] func(ctx context.Context) (T, error)

// Handle owns one model instance of type T.
//
// The first Get triggers the loader; concurrent callers wait for that same
// load. Once Ready the instance is reused. A Failed load is not cached: the
// next Get tries again.
type Handle[T any] struct {
	name string
	load Loader[T]

	mu       sync.Mutex
	state    State
	instance T
	lastErr  error

	group singleflight.Group
	use   sync.Mutex
}

// NewHandle creates an uninitialized handle. Nothing is loaded until Get.
func NewHandle[T any](name string, load Loader[T]) *Handle[T] {
	return &Handle[T]{name: name, load: load}
}

// Name returns the label used in logs and errors.
func (h *Handle[T]) Name() string { return h.name }

// State returns the current load state.
func (h *Handle[T]) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the error of the last failed load, if any.
func (h *Handle[T]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Instance returns the instance if it is Ready. It never triggers a load.
func (h *Handle[T]) Instance() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		var zero T
		return zero, false
	}
	return h.instance, true
}

// Get returns the loaded instance, loading it if needed.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	h.mu.Lock()
	if h.state == Ready {
		inst := h.instance
		h.mu.Unlock()
		return inst, nil
	}
	h.state = Initializing
	h.mu.Unlock()

	ch := h.group.DoChan(h.name, func() (interface{}, error) {
		// Re-check under the lock: a previous flight may have completed
		// between our state check and joining the group.
		h.mu.Lock()
		if h.state == Ready {
			inst := h.instance
			h.mu.Unlock()
			return inst, nil
		}
		h.mu.Unlock()

		inst, err := h.load(context.WithoutCancel(ctx))

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			h.state = Failed
			h.lastErr = err
			return nil, err
		}
		h.state = Ready
		h.instance = inst
		h.lastErr = nil
		return inst, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("load %s: %w", h.name, res.Err)
		}
		inst, _ := res.Val.(T)
		return inst, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Use loads the instance and runs fn with exclusive access to it. Inference
// calls against one instance never overlap.
func (h *Handle[T]) Use(ctx context.Context, fn func(T) error) error {
	inst, err := h.Get(ctx)
	if err != nil {
		return err
	}
	h.use.Lock()
	defer h.use.Unlock()
	return fn(inst)
}

// Close closes a Ready instance that has a Close method and resets the
// handle to Uninitialized.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		return nil
	}
	var err error
	if c, ok := any(h.instance).(interface{ Close() error }); ok {
		err = c.Close()
	}
	var zero T
	h.instance = zero
	h.state = Uninitialized
	return err
}
