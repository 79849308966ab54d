// Package sysspeech is the instant, model-free tier-0 engine. It drives the
// operating system's speech synthesizer (say on macOS, espeak-ng elsewhere)
// and needs no network or model download, the same contract the web_speech
// tier satisfies in a browser. Stored metadata keeps the web_speech model
// name so records round-trip.
package sysspeech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Engine shells out to the platform synthesizer per request.
type Engine struct {
	binary string
	logger *log.Logger
}

// New probes for a usable system synthesizer.
func New(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{logger: logger.WithPrefix("sysspeech")}

	candidates := []string{"espeak-ng", "espeak"}
	if runtime.GOOS == "darwin" {
		candidates = []string{"say"}
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			e.binary = path
			break
		}
	}
	if e.binary == "" {
		e.logger.Warn("no system synthesizer found", "tried", candidates)
	}
	return e
}

// Model implements engines.Engine.
func (e *Engine) Model() engines.Model { return engines.ModelWebSpeech }

// Generate implements engines.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts engines.GenerateOptions) (*audio.Clip, error) {
	if text == "" {
		return nil, engines.ErrEmptyText
	}
	if e.binary == "" {
		return nil, engines.ErrEngineNotAvailable
	}

	tmp, err := os.CreateTemp("", "chaptervoice-*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	var cmd *exec.Cmd
	if filepath.Base(e.binary) == "say" {
		// say writes WAVE only with an explicit data format.
		args := []string{"-o", tmpPath, "--data-format=LEI16@22050", "--file-format=WAVE"}
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		args = append(args, text)
		cmd = exec.CommandContext(ctx, e.binary, args...)
	} else {
		args := []string{"-w", tmpPath}
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		args = append(args, text)
		cmd = exec.CommandContext(ctx, e.binary, args...)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %s", engines.ErrGenerationFailed, err, out)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read synthesized wav: %w", err)
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

// Voices implements engines.Engine. The system synthesizer voice list is not
// enumerated; the default voice is advertised.
func (e *Engine) Voices() []engines.Voice {
	return []engines.Voice{{ID: "default", Name: "System default", Language: "en", Quality: "low"}}
}

// Available implements engines.Engine.
func (e *Engine) Available() bool { return e.binary != "" }

// Close implements engines.Engine.
func (e *Engine) Close() error { return nil }
