package engines

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Registry is the adapter set owned by the composition root. Engines are
// passed in explicitly so tests can substitute fakes and lifetimes stay
// visible; nothing in this package holds global state.
type Registry struct {
	mu      sync.RWMutex
	engines map[Model]Engine
	logger  *log.Logger
}

// NewRegistry builds a registry from the given engines. Later entries for the
// same model win.
func NewRegistry(logger *log.Logger, engines ...Engine) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{
		engines: make(map[Model]Engine),
		logger:  logger.WithPrefix("engines"),
	}
	for _, e := range engines {
		r.engines[e.Model()] = e
	}
	return r
}

// Register adds or replaces the engine for its model.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Model()] = e
}

// Get resolves the engine for a model.
func (r *Registry) Get(model Model) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotRegistered, model)
	}
	return e, nil
}

// Models lists registered models.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]Model, 0, len(r.engines))
	for m := range r.engines {
		models = append(models, m)
	}
	return models
}

// VoicesFor returns the voices of the engine for a model, or nil if the model
// is unregistered.
func (r *Registry) VoicesFor(model Model) []Voice {
	e, err := r.Get(model)
	if err != nil {
		return nil
	}
	return e.Voices()
}

// Close shuts down every engine, returning the first error seen.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for model, e := range r.engines {
		if err := e.Close(); err != nil {
			r.logger.Warn("engine close failed", "model", model, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
