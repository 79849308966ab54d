// Package kokoro talks to a local kokoro inference server over HTTP. The
// server loads the model at the requested quantization; the adapter treats
// each request as atomic.
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// DefaultVoice is the voice used when a request names none.
const DefaultVoice = "af_heart"

// Config holds kokoro adapter settings.
type Config struct {
	// BaseURL of the kokoro server, e.g. "http://127.0.0.1:8880".
	BaseURL string

	// Timeout bounds a single synthesis request. Model loading on first use
	// can dominate; keep this generous.
	Timeout time.Duration
}

// Engine is the HTTP adapter.
type Engine struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

type speechRequest struct {
	Input        string  `json:"input"`
	Voice        string  `json:"voice"`
	Quantization string  `json:"quantization,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	Format       string  `json:"response_format"`
}

// New creates the adapter.
func New(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8880"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Engine{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.WithPrefix("kokoro"),
	}
}

// Model implements engines.Engine.
func (e *Engine) Model() engines.Model { return engines.ModelKokoro }

// Generate implements engines.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts engines.GenerateOptions) (*audio.Clip, error) {
	if text == "" {
		return nil, engines.ErrEmptyText
	}

	voice := opts.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	body, err := json.Marshal(speechRequest{
		Input:        text,
		Voice:        voice,
		Quantization: string(opts.Quantization),
		Speed:        opts.Speed,
		Format:       "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engines.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: server returned %d: %s", engines.ErrGenerationFailed, resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engines.ErrGenerationFailed, err)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	return clip, nil
}

// Voices implements engines.Engine. Kokoro voices are English; the ladder
// assumes kokoro availability for English regardless of this list.
func (e *Engine) Voices() []engines.Voice {
	return []engines.Voice{
		{ID: "af_heart", Name: "Heart", Language: "en-US", Quality: "high"},
		{ID: "af_bella", Name: "Bella", Language: "en-US", Quality: "high"},
		{ID: "am_michael", Name: "Michael", Language: "en-US", Quality: "high"},
		{ID: "bf_emma", Name: "Emma", Language: "en-GB", Quality: "high"},
	}
}

// Available implements engines.Engine. A cheap liveness probe against the
// server; failures are reported, not cached.
func (e *Engine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("kokoro server unreachable", "url", e.baseURL, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close implements engines.Engine.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
