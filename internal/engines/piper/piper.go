// Package piper runs the piper neural TTS binary as a subprocess, one
// invocation per segment.
package piper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Config holds piper adapter settings.
type Config struct {
	// Command is the piper invocation, split with shell quoting rules.
	// Defaults to "piper".
	Command string

	// ModelDir is where voice models (<voice>.onnx + .json) live.
	ModelDir string

	// LengthScale stretches phoneme duration (1.0 = normal).
	LengthScale float64
}

// Engine shells out to piper. One synthesis conversation runs at a time per
// engine instance; the process itself serializes inference anyway.
type Engine struct {
	cmd      []string
	modelDir string
	scale    float64
	logger   *log.Logger

	mu     sync.Mutex
	voices []engines.Voice
}

// New creates the adapter and scans ModelDir for installed voices.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "piper"
	}
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse piper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("piper command empty")
	}

	e := &Engine{
		cmd:      args,
		modelDir: cfg.ModelDir,
		scale:    cfg.LengthScale,
		logger:   logger.WithPrefix("piper"),
	}
	e.voices = e.scanVoices()
	return e, nil
}

// Model implements engines.Engine.
func (e *Engine) Model() engines.Model { return engines.ModelPiper }

// Generate implements engines.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts engines.GenerateOptions) (*audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, engines.ErrEmptyText
	}
	if opts.Voice == "" {
		return nil, fmt.Errorf("%w: piper requires a voice", engines.ErrGenerationFailed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	modelPath := filepath.Join(e.modelDir, opts.Voice+".onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: voice model %s: %v", engines.ErrGenerationFailed, opts.Voice, err)
	}

	tmp, err := os.CreateTemp("", "chaptervoice-piper-*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--model", modelPath, "--output_file", tmpPath)
	if e.scale > 0 && e.scale != 1.0 {
		args = append(args, "--length_scale", fmt.Sprintf("%.3f", e.scale))
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: piper: %s: %s", engines.ErrGenerationFailed, err, out)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read piper output: %w", err)
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

// scanVoices reads voice config sidecars from the model directory. Piper
// ships one <name>.onnx.json (or <name>.json) per voice with language and
// quality fields.
func (e *Engine) scanVoices() []engines.Voice {
	if e.modelDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.modelDir)
	if err != nil {
		e.logger.Debug("no piper model dir", "dir", e.modelDir, "error", err)
		return nil
	}

	var voices []engines.Voice
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".onnx") {
			continue
		}
		id := strings.TrimSuffix(name, ".onnx")
		v := engines.Voice{ID: id, Name: id}
		v.Language, v.Quality = voiceMeta(e.modelDir, id)
		voices = append(voices, v)
	}
	e.logger.Debug("scanned piper voices", "count", len(voices))
	return voices
}

type voiceConfig struct {
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Audio struct {
		Quality string `json:"quality"`
	} `json:"audio"`
}

func voiceMeta(dir, id string) (language, quality string) {
	// Fall back to the conventional <lang>_<region>-<name>-<quality> voice id.
	language, quality = metaFromID(id)

	for _, candidate := range []string{id + ".onnx.json", id + ".json"} {
		data, err := os.ReadFile(filepath.Join(dir, candidate))
		if err != nil {
			continue
		}
		var vc voiceConfig
		if json.Unmarshal(data, &vc) != nil {
			continue
		}
		if vc.Language.Code != "" {
			language = strings.ReplaceAll(vc.Language.Code, "_", "-")
		}
		if vc.Audio.Quality != "" {
			quality = vc.Audio.Quality
		}
		break
	}
	return language, quality
}

func metaFromID(id string) (language, quality string) {
	parts := strings.Split(id, "-")
	if len(parts) >= 1 {
		language = strings.ReplaceAll(parts[0], "_", "-")
	}
	if len(parts) >= 3 {
		quality = parts[len(parts)-1]
	}
	return language, quality
}

// Voices implements engines.Engine.
func (e *Engine) Voices() []engines.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engines.Voice(nil), e.voices...)
}

// Available implements engines.Engine.
func (e *Engine) Available() bool {
	_, err := exec.LookPath(e.cmd[0])
	return err == nil
}

// Close implements engines.Engine.
func (e *Engine) Close() error { return nil }
