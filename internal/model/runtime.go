package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Brownie44l1/plant-api/internal/tensor"
	"golang.org/x/sync/singleflight"
)

// ErrLoad is returned when the model artifact cannot be fetched or parsed.
var ErrLoad = errors.New("model load failed")

// Model is a loaded classifier. Run must not retain the input tensor.
type Model interface {
	Run(ctx context.Context, input *tensor.Tensor) (OutputVector, error)
	Close() error
}

// Loader produces a Model from its artifact.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Model, error)

// Load calls f(ctx).
func (f LoaderFunc) Load(ctx context.Context) (Model, error) {
	return f(ctx)
}

// DefaultLoadTimeout bounds a model load when no other limit is configured.
const DefaultLoadTimeout = 5 * time.Minute

// Runtime lazily loads the model on first use and runs predictions against it.
// Concurrent first callers share a single in-flight load. A failed load is not
// cached; the next call tries again.
type Runtime struct {
	loader      Loader
	logger      *slog.Logger
	loadTimeout time.Duration

	loads singleflight.Group
	runs  sync.WaitGroup

	mu     sync.RWMutex
	model  Model
	closed bool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLoadTimeout overrides DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// NewRuntime creates a runtime backed by loader. Nothing is loaded until the
// first Predict or Warm call.
func NewRuntime(loader Loader, logger *slog.Logger, opts ...RuntimeOption) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{loader: loader, logger: logger, loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Loaded reports whether the model handle is available.
func (r *Runtime) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model != nil
}

// Warm loads the model without running a prediction.
func (r *Runtime) Warm(ctx context.Context) error {
	_, err := r.handle(ctx)
	return err
}

// Predict runs one forward pass. The input tensor is consumed: it is released
// before Predict returns, whether or not inference succeeded.
func (r *Runtime) Predict(ctx context.Context, input *tensor.Tensor) (OutputVector, error) {
	defer input.Release()

	m, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.runs.Done()

	if err := input.Expect(InputShape); err != nil {
		return nil, err
	}

	out, err := m.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(out) != NumClasses {
		return nil, fmt.Errorf("%w: %w: model returned %d scores, want %d", ErrScoring, tensor.ErrShape, len(out), NumClasses)
	}
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("inference failed: non-finite score at index %d", i)
		}
	}

	return out, nil
}

// Close releases the loaded model once in-flight predictions have finished.
// The runtime cannot be used afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	m := r.model
	r.model = nil
	r.mu.Unlock()

	r.runs.Wait()
	if m == nil {
		return nil
	}
	return m.Close()
}

// acquire returns the loaded model and registers a run. Callers must call
// r.runs.Done when the run ends.
func (r *Runtime) acquire(ctx context.Context) (Model, error) {
	if _, err := r.handle(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.model == nil {
		return nil, fmt.Errorf("%w: runtime closed", ErrLoad)
	}
	r.runs.Add(1)
	return r.model, nil
}

func (r *Runtime) handle(ctx context.Context) (Model, error) {
	r.mu.RLock()
	m, closed := r.model, r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: runtime closed", ErrLoad)
	}
	if m != nil {
		return m, nil
	}

	// The load outlives any single caller; each caller only stops waiting.
	results := r.loads.DoChan("model", func() (any, error) {
		r.mu.RLock()
		existing := r.model
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		r.logger.Info("Loading model")
		loaded, err := r.loader.Load(loadCtx)
		if err != nil {
			r.logger.Error("Failed to load model", "error", err)
			if errors.Is(err, ErrLoad) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrLoad, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			loaded.Close()
			return nil, fmt.Errorf("%w: runtime closed", ErrLoad)
		}
		r.model = loaded
		r.logger.Info("Model loaded")
		return loaded, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("Joined in-flight model load")
		}
		return res.Val.(Model), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for model load: %w", ctx.Err())
	}
}
