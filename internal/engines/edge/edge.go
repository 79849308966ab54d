// Package edge adapts an edge-tts proxy service over HTTP. The proxy wraps
// Microsoft's cloud voices; network is required, quality is fixed by the
// service, and requests are atomic per segment.
package edge

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

// Config holds edge adapter settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Engine is the HTTP adapter.
type Engine struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

type synthRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// New creates the adapter.
func New(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:5500"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Engine{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.WithPrefix("edge"),
	}
}

// Model implements engines.Engine.
func (e *Engine) Model() engines.Model { return engines.ModelEdge }

// Generate implements engines.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts engines.GenerateOptions) (*audio.Clip, error) {
	if text == "" {
		return nil, engines.ErrEmptyText
	}

	voice := opts.Voice
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	body, err := json.Marshal(synthRequest{Text: text, Voice: voice, Format: "riff-22050hz-16bit-mono-pcm"})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/synthesize", bytes.NewReader(body))
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

// Voices implements engines.Engine.
func (e *Engine) Voices() []engines.Voice {
	return []engines.Voice{
		{ID: "en-US-AriaNeural", Name: "Aria", Language: "en-US", Quality: "high"},
		{ID: "en-GB-SoniaNeural", Name: "Sonia", Language: "en-GB", Quality: "high"},
		{ID: "de-DE-KatjaNeural", Name: "Katja", Language: "de-DE", Quality: "high"},
		{ID: "fr-FR-DeniseNeural", Name: "Denise", Language: "fr-FR", Quality: "high"},
	}
}

// Available implements engines.Engine.
func (e *Engine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("edge proxy unreachable", "url", e.baseURL, "error", err)
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
