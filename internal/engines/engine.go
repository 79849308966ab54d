// Package engines defines the uniform adapter contract for text-to-speech
// backends and the registry the rest of the system resolves them from.
package engines

import (
	"context"
	"errors"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
)

// Common engine errors.
var (
	ErrModelNotRegistered = errors.New("model not registered")
	ErrEngineNotAvailable = errors.New("engine is not available")
	ErrEmptyText          = errors.New("no text to synthesize")
	ErrGenerationFailed   = errors.New("audio generation failed")
)

// Model identifies a TTS backend. The values are stable wire names: stored
// audio metadata round-trips through them.
type Model string

const (
	ModelWebSpeech Model = "web_speech"
	ModelPiper     Model = "piper"
	ModelKokoro    Model = "kokoro"
	ModelEdge      Model = "edge"
)

// Valid reports whether m is a known model name.
func (m Model) Valid() bool {
	switch m {
	case ModelWebSpeech, ModelPiper, ModelKokoro, ModelEdge:
		return true
	}
	return false
}

// Quantization selects a model weight precision. Higher precision means
// higher perceptual quality and more compute.
type Quantization string

const (
	QuantNone Quantization = ""
	QuantQ4   Quantization = "q4"
	QuantQ8   Quantization = "q8"
	QuantFP16 Quantization = "fp16"
	QuantFP32 Quantization = "fp32"
)

// Voice describes a voice an engine can speak with.
type Voice struct {
	ID       string
	Name     string
	Language string // BCP-47-ish tag, e.g. "de-DE"
	Quality  string // engine-declared: "x_low", "low", "medium", "high"
}

// QualityRank orders declared voice qualities for ladder resolution.
func QualityRank(quality string) int {
	switch quality {
	case "x_low":
		return 0
	case "low":
		return 1
	case "medium":
		return 2
	case "high":
		return 3
	default:
		return 1
	}
}

// GenerateOptions carries per-request synthesis settings.
type GenerateOptions struct {
	Voice        string
	Quantization Quantization
	Speed        float64

	// OnProgress, when set, receives coarse progress in [0,1]. Engines that
	// cannot report progress call it once with 1.
	OnProgress func(float64)
}

// Engine is one TTS backend. A Generate call is atomic from the caller's
// point of view regardless of the engine's internal chunking or retries, and
// must return a non-nil error on failure, never an empty clip.
type Engine interface {
	// Model returns the backend this engine implements.
	Model() Model

	// Generate synthesizes one segment of text into a clip.
	Generate(ctx context.Context, text string, opts GenerateOptions) (*audio.Clip, error)

	// Voices lists the voices the engine offers.
	Voices() []Voice

	// Available reports whether the engine can serve requests right now.
	Available() bool

	// Close releases engine resources.
	Close() error
}
