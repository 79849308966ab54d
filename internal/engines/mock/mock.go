// Package mock provides a scripted TTS engine for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Engine is a deterministic fake. Every Generate call is recorded; tests
// assert call counts to prove single-flight and no-redundant-generation
// behavior. Generation can be delayed, gated on a channel, or forced to fail.
type Engine struct {
	mu sync.Mutex

	model  engines.Model
	voices []engines.Voice

	// Delay is applied to every Generate call before it resolves.
	Delay time.Duration

	// Gate, when set, blocks Generate until the channel is closed.
	Gate chan struct{}

	// FailText makes Generate fail for any text containing this substring.
	FailText string

	// FailAll makes every Generate call fail.
	FailAll bool

	available bool
	closed    bool

	calls       []Call
	callsByText map[string]int
}

// Call records one Generate invocation.
type Call struct {
	Text  string
	Voice string
	Quant engines.Quantization
}

// New creates a mock engine reporting the given model.
func New(model engines.Model) *Engine {
	return &Engine{
		model: model,
		voices: []engines.Voice{
			{ID: "mock-en", Name: "Mock English", Language: "en-US", Quality: "medium"},
		},
		available:   true,
		callsByText: make(map[string]int),
	}
}

// WithVoices replaces the advertised voice list.
func (e *Engine) WithVoices(voices ...engines.Voice) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voices = voices
	return e
}

// Model implements engines.Engine.
func (e *Engine) Model() engines.Model { return e.model }

// Generate implements engines.Engine. The returned clip carries silence whose
// duration scales with word count, so playback timing is text-dependent like
// a real engine's.
func (e *Engine) Generate(ctx context.Context, text string, opts engines.GenerateOptions) (*audio.Clip, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, engines.ErrEngineNotAvailable
	}
	e.calls = append(e.calls, Call{Text: text, Voice: opts.Voice, Quant: opts.Quantization})
	e.callsByText[text]++
	delay := e.Delay
	gate := e.Gate
	fail := e.FailAll || (e.FailText != "" && strings.Contains(text, e.FailText))
	e.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, engines.ErrEmptyText
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("%w: scripted failure for %q", engines.ErrGenerationFailed, truncate(text, 32))
	}

	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}

	return silence(text), nil
}

func silence(text string) *audio.Clip {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	const sampleRate = 22050
	dur := time.Duration(words) * 300 * time.Millisecond
	frames := int(dur.Seconds() * sampleRate)
	return &audio.Clip{
		PCM:        make([]byte, frames*2),
		SampleRate: sampleRate,
		Channels:   1,
		Duration:   dur,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Voices implements engines.Engine.
func (e *Engine) Voices() []engines.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engines.Voice(nil), e.voices...)
}

// Available implements engines.Engine.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available && !e.closed
}

// SetAvailable toggles availability.
func (e *Engine) SetAvailable(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = ok
}

// Close implements engines.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// CallCount returns the total number of Generate calls.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// CallsFor returns how many times Generate was invoked for the exact text.
func (e *Engine) CallsFor(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callsByText[text]
}

// Calls returns a copy of all recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}
