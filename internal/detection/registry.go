package detection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// Registry holds the configured engines and routes each call to the
// preferred engine, falling back to any other healthy one.
type Registry struct {
	engines   map[string]Engine
	order     []string
	preferred string
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry that prefers the engine named
// preferred.
func NewRegistry(preferred string) *Registry {
	return &Registry{
		engines:   make(map[string]Engine),
		preferred: preferred,
	}
}

// Register adds an engine.
func (r *Registry) Register(engine Engine) error {
	if engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}
	name := engine.Name()
	if name == "" {
		return fmt.Errorf("engine name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[name]; exists {
		return fmt.Errorf("engine %q already registered", name)
	}
	r.engines[name] = engine
	r.order = append(r.order, name)
	return nil
}

// Get returns an engine by name.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names returns engine names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Select returns the preferred engine when healthy, otherwise the first
// healthy engine in registration order.
func (r *Registry) Select(ctx context.Context) (Engine, error) {
	r.mu.RLock()
	candidates := make([]Engine, 0, len(r.order))
	if e, ok := r.engines[r.preferred]; ok {
		candidates = append(candidates, e)
	}
	for _, name := range r.order {
		if name != r.preferred {
			candidates = append(candidates, r.engines[name])
		}
	}
	r.mu.RUnlock()

	for _, e := range candidates {
		if e.Healthy(ctx) {
			return e, nil
		}
	}
	return nil, ErrUnavailable
}

// Name implements Engine.
func (r *Registry) Name() string { return "registry" }

// Healthy implements Engine.
func (r *Registry) Healthy(ctx context.Context) bool {
	_, err := r.Select(ctx)
	return err == nil
}

// Infer implements Engine by delegating to the selected engine.
func (r *Registry) Infer(ctx context.Context, frame gocv.Mat, req Request) ([]Detection, error) {
	e, err := r.Select(ctx)
	if err != nil {
		return nil, err
	}
	dets, err := e.Infer(ctx, frame, req)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", e.Name(), err)
	}
	return dets, nil
}

// Close closes every engine and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, name := range r.order {
		if err := r.engines[name].Close(); err != nil {
			log.Printf("[Registry] Error closing engine %s: %v", name, err)
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.engines = make(map[string]Engine)
	r.order = nil
	return errors.Join(errs...)
}
