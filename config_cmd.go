package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# book language (BCP-47 tag); per-run override: --language
language: "en"
# playback speed multiplier (0.5 to 3.0)
speed: 1.0
# directory for generated audio and checkpoints (default: OS data dir)
# data_dir: "~/.local/share/chaptervoice"

playback:
  # upcoming segments to pre-generate while playing
  lookahead: 2
  # retries before a segment is marked errored
  retry_attempts: 2
  generation_timeout: "60s"
  # skipping back restarts the segment when this far into it
  skip_restart_threshold: "3s"
  # replace the audible segment mid-play when an upgrade lands
  hot_swap_upgrades: false

upgrade:
  # minimum spacing between background regenerations
  segment_interval: "2s"
  # wait before retrying while resources are constrained
  backoff: "5s"
  generation_timeout: "120s"

# piper (local neural TTS for non-English voices)
piper:
  command: "piper"
  # model_dir: "/usr/share/piper"
  length_scale: 1.0

# kokoro server (English tiers)
kokoro:
  url: "http://127.0.0.1:8880"
  timeout: "2m"

# edge synthesis proxy
edge:
  url: "http://127.0.0.1:5500"
  timeout: "30s"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the chaptervoice config file",
	Long:    "\nEdit the chaptervoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "chaptervoice config\nchaptervoice config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		c := exec.Command(editor, configFile) //nolint:gosec
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
