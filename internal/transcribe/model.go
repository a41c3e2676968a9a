package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrModelLoad = errors.New("model load failed")
	// ErrOutOfMemory marks a GPU allocation failure during model load; the
	// registry reacts by falling back to a CPU key.
	ErrOutOfMemory = errors.New("device out of memory")
)

// ModelKey identifies one loaded model instance.
type ModelKey struct {
	Size      string
	Device    string
	Precision string
}

func (k ModelKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Size, k.Device, k.Precision)
}

// CPUFallback is the key tried once when loading k runs the device out of
// memory.
func (k ModelKey) CPUFallback() ModelKey {
	return ModelKey{Size: k.Size, Device: "cpu", Precision: "fp32"}
}

// Model runs speech inference on one audio file.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Loader constructs a model for a key. Returns ErrOutOfMemory (wrapped) when
// the requested device cannot hold the model.
type Loader func(key ModelKey) (Model, error)

// Registry caches loaded models for the lifetime of the worker process. It
// replaces an ambient process-global cache with an injected value whose
// lifecycle is tied to worker start/stop.
type Registry struct {
	loader Loader

	mu     sync.Mutex
	models map[ModelKey]Model
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{loader: loader, models: make(map[ModelKey]Model)}
}

// Get returns the cached model for key, loading it on first use. Loading is
// serialized under a mutex so concurrent first users load exactly once. A
// GPU out-of-memory failure falls back once to the CPU key, which is cached
// in its place.
func (r *Registry) Get(key ModelKey) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[key]; ok {
		return m, nil
	}

	m, err := r.loader(key)
	if err == nil {
		r.models[key] = m
		return m, nil
	}
	if !errors.Is(err, ErrOutOfMemory) || key.Device == "cpu" {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, key, err)
	}
	return r.fallbackLocked(key)
}

// Fallback swaps key over to its CPU model after the device ran out of
// memory at inference time, when the load itself had succeeded. The original
// key is aliased, so every later Get returns the CPU model directly.
func (r *Registry) Fallback(key ModelKey) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbackLocked(key)
}

func (r *Registry) fallbackLocked(key ModelKey) (Model, error) {
	fallback := key.CPUFallback()
	m, ok := r.models[fallback]
	if !ok {
		var err error
		m, err = r.loader(fallback)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, fallback, err)
		}
		r.models[fallback] = m
	}
	// Alias the original key so later callers skip the doomed device.
	r.models[key] = m
	return m, nil
}

// Close tears down every cached model that supports closing.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for key, m := range r.models {
		if c, ok := m.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = fmt.Errorf("close model %s: %w", key, err)
			}
		}
		delete(r.models, key)
	}
	return first
}
