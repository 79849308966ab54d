package engines

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
)

// FallbackEngine wraps a primary engine and drops to a secondary one after
// the primary fails maxFailures times in a row. A success on the primary
// resets the counter. The wrapper reports the primary's model so callers are
// unaware of the substitution.
type FallbackEngine struct {
	primary     Engine
	fallback    Engine
	maxFailures int

	mu            sync.Mutex
	failures      int
	usingFallback bool

	logger *log.Logger
}

// NewFallbackEngine creates the decorator. maxFailures <= 0 defaults to 3.
func NewFallbackEngine(primary, fallback Engine, maxFailures int, logger *log.Logger) *FallbackEngine {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackEngine{
		primary:     primary,
		fallback:    fallback,
		maxFailures: maxFailures,
		logger:      logger.WithPrefix("fallback"),
	}
}

// Model implements Engine.
func (f *FallbackEngine) Model() Model { return f.primary.Model() }

// Generate implements Engine.
func (f *FallbackEngine) Generate(ctx context.Context, text string, opts GenerateOptions) (*audio.Clip, error) {
	f.mu.Lock()
	useFallback := f.usingFallback
	f.mu.Unlock()

	if useFallback {
		return f.fallback.Generate(ctx, text, opts)
	}

	clip, err := f.primary.Generate(ctx, text, opts)
	if err == nil {
		f.mu.Lock()
		if f.failures > 0 {
			f.logger.Info("primary engine recovered", "model", f.primary.Model(), "failures", f.failures)
			f.failures = 0
		}
		f.mu.Unlock()
		return clip, nil
	}

	if ctx.Err() != nil {
		return nil, err // cancellation is not a primary failure
	}

	f.mu.Lock()
	f.failures++
	trip := f.failures >= f.maxFailures
	if trip {
		f.usingFallback = true
	}
	failures := f.failures
	f.mu.Unlock()

	if !trip {
		f.logger.Warn("primary engine failed",
			"model", f.primary.Model(), "attempt", failures, "max", f.maxFailures, "error", err)
		return nil, err
	}

	f.logger.Warn("switching to fallback engine",
		"primary", f.primary.Model(), "fallback", f.fallback.Model(), "failures", failures)
	return f.fallback.Generate(ctx, text, opts)
}

// Voices implements Engine.
func (f *FallbackEngine) Voices() []Voice {
	f.mu.Lock()
	useFallback := f.usingFallback
	f.mu.Unlock()

	if useFallback {
		return f.fallback.Voices()
	}
	return f.primary.Voices()
}

// Available implements Engine.
func (f *FallbackEngine) Available() bool {
	return f.primary.Available() || f.fallback.Available()
}

// Reset returns the wrapper to the primary engine.
func (f *FallbackEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
	f.usingFallback = false
}

// Close implements Engine, closing both wrapped engines.
func (f *FallbackEngine) Close() error {
	err1 := f.primary.Close()
	err2 := f.fallback.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
