// Package main provides the entry point for the chaptervoice CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/engines/edge"
	"github.com/dgnsrekt/chaptervoice/internal/engines/kokoro"
	"github.com/dgnsrekt/chaptervoice/internal/engines/piper"
	"github.com/dgnsrekt/chaptervoice/internal/engines/sysspeech"
	"github.com/dgnsrekt/chaptervoice/internal/playback"
	"github.com/dgnsrekt/chaptervoice/internal/progress"
	"github.com/dgnsrekt/chaptervoice/internal/store"
	"github.com/dgnsrekt/chaptervoice/internal/upgrade"
	"github.com/dgnsrekt/chaptervoice/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	language   string
	modelFlag  string
	voiceFlag  string
	speedFlag  float64
	dataDir    string
	fresh      bool

	rootCmd = &cobra.Command{
		Use:   "chaptervoice BOOK",
		Short: "Listen to plain-text books with on-demand TTS narration",
		Long: "\nNarrate a book (a .txt file or a directory of .txt chapters) with " +
			"local or self-hosted TTS engines. Audio is generated per segment as " +
			"you listen, cached, and upgraded to higher quality in the background.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return applyConfig()
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return runReader(args[0])
		},
	}
)

// envOverrides are runtime settings read from the environment only.
type envOverrides struct {
	Debug   bool   `env:"CHAPTERVOICE_DEBUG"`
	LogFile string `env:"CHAPTERVOICE_LOG_FILE"`
}

func applyConfig() error {
	if language == "" {
		language = viper.GetString("language")
	}
	if modelFlag == "" {
		modelFlag = viper.GetString("model")
	}
	if voiceFlag == "" {
		voiceFlag = viper.GetString("voice")
	}
	if speedFlag == 0 {
		speedFlag = viper.GetFloat64("speed")
	}
	if dataDir == "" {
		dataDir = viper.GetString("data_dir")
	}
	if dataDir == "" {
		scope := gap.NewScope(gap.User, "chaptervoice")
		dirs, err := scope.DataDirs()
		if err != nil || len(dirs) == 0 {
			return fmt.Errorf("could not locate a data directory: %w", err)
		}
		dataDir = dirs[0]
	}
	if modelFlag != "" && !engines.Model(modelFlag).Valid() {
		return fmt.Errorf("unknown model %q (want web_speech, piper, kokoro, or edge)", modelFlag)
	}
	return nil
}

func setupLog() (*log.Logger, func() error, error) {
	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing environment: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file or nowhere.
	w := io.Discard
	closer := func() error { return nil }
	if overrides.LogFile != "" {
		f, err := os.OpenFile(overrides.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closer = f.Close
	}

	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if overrides.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger, closer, nil
}

func playbackConfig() (playback.Config, error) {
	cfg := playback.DefaultConfig()
	if v := viper.GetInt("playback.lookahead"); viper.IsSet("playback.lookahead") {
		cfg.Lookahead = v
	}
	if v := viper.GetInt("playback.retry_attempts"); viper.IsSet("playback.retry_attempts") {
		cfg.RetryAttempts = v
	}
	if v := viper.GetDuration("playback.generation_timeout"); v > 0 {
		cfg.GenerationTimeout = v
	}
	if v := viper.GetDuration("playback.skip_restart_threshold"); v > 0 {
		cfg.SkipRestartThreshold = v
	}
	cfg.HotSwapUpgrades = viper.GetBool("playback.hot_swap_upgrades")
	if speedFlag > 0 {
		cfg.Speed = speedFlag
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func upgradeConfig() upgrade.Config {
	cfg := upgrade.DefaultConfig()
	if v := viper.GetDuration("upgrade.segment_interval"); v > 0 {
		cfg.SegmentInterval = v
	}
	if v := viper.GetDuration("upgrade.backoff"); v > 0 {
		cfg.Backoff = v
	}
	if v := viper.GetDuration("upgrade.generation_timeout"); v > 0 {
		cfg.GenerationTimeout = v
	}
	return cfg
}

// buildRegistry wires every reachable TTS backend. The system-speech engine
// is always present; kokoro falls back to it after repeated failures so
// English narration keeps flowing when the server is down.
func buildRegistry(logger *log.Logger) (*engines.Registry, error) {
	sys := sysspeech.New(logger)

	kok := kokoro.New(kokoro.Config{
		BaseURL: viper.GetString("kokoro.url"),
		Timeout: viper.GetDuration("kokoro.timeout"),
	}, logger)

	edg := edge.New(edge.Config{
		BaseURL: viper.GetString("edge.url"),
		Timeout: viper.GetDuration("edge.timeout"),
	}, logger)

	registry := engines.NewRegistry(logger,
		sys,
		engines.NewFallbackEngine(kok, sys, 3, logger),
		edg,
	)

	pip, err := piper.New(piper.Config{
		Command:     viper.GetString("piper.command"),
		ModelDir:    viper.GetString("piper.model_dir"),
		LengthScale: viper.GetFloat64("piper.length_scale"),
	}, logger)
	if err != nil {
		logger.Warn("piper unavailable", "error", err)
	} else {
		registry.Register(pip)
	}
	return registry, nil
}

func runReader(path string) error {
	logger, closeLog, err := setupLog()
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	bk, err := book.LoadTxt(path, language)
	if err != nil {
		return err
	}

	ctx := context.Background()
	disk, err := store.OpenDisk(ctx, filepath.Join(dataDir, "segments.db"))
	if err != nil {
		return err
	}
	st := store.New(disk, logger)
	defer st.Close() //nolint:errcheck

	tracker, err := progress.Open(ctx, filepath.Join(dataDir, "progress.db"))
	if err != nil {
		return err
	}
	defer tracker.Close() //nolint:errcheck

	if fresh {
		if err := tracker.Clear(ctx, bk.ID); err != nil {
			logger.Warn("could not clear checkpoint", "error", err)
		}
	}

	registry, err := buildRegistry(logger)
	if err != nil {
		return err
	}
	defer registry.Close() //nolint:errcheck

	player, err := audio.NewOtoPlayer(22050, 1)
	if err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	defer player.Close() //nolint:errcheck

	pbCfg, err := playbackConfig()
	if err != nil {
		return err
	}
	coord := playback.New(pbCfg, registry, st, player, tracker, logger)
	defer coord.Close() //nolint:errcheck

	// Upgrades defer to user-triggered generation so background work never
	// adds user-visible latency.
	gate := upgrade.GateFunc(func() bool { return !coord.GenerationPending() })
	upgrader := upgrade.New(upgradeConfig(), registry, st, gate, logger)
	upgrader.SetOnUpgrade(coord.NotifyUpgrade)
	defer upgrader.Close() //nolint:errcheck

	reader := ui.NewReader(coord, upgrader, bk, logger)
	if _, err := tea.NewProgram(reader, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear generated audio",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how much generated audio is stored",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		disk, err := store.OpenDisk(ctx, filepath.Join(dataDir, "segments.db"))
		if err != nil {
			return err
		}
		defer disk.Close() //nolint:errcheck

		stats, err := disk.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d segments across %d books, %s\n",
			stats.Segments, stats.Books, stats.HumanSize())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all generated audio",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		disk, err := store.OpenDisk(ctx, filepath.Join(dataDir, "segments.db"))
		if err != nil {
			return err
		}
		defer disk.Close() //nolint:errcheck

		if err := disk.Wipe(ctx); err != nil {
			return err
		}
		fmt.Println("Cleared generated audio.")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for generated audio and checkpoints")
	rootCmd.Flags().StringVarP(&language, "language", "L", "en", "book language (BCP-47 tag, e.g. en-US, de)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "initial TTS model (web_speech, piper, kokoro, edge)")
	rootCmd.Flags().StringVar(&voiceFlag, "voice", "", "initial voice id for the chosen model")
	rootCmd.Flags().Float64VarP(&speedFlag, "speed", "x", 0, "playback speed multiplier")
	rootCmd.Flags().BoolVar(&fresh, "start-over", false, "discard the saved listening position")

	_ = viper.BindPFlag("language", rootCmd.Flags().Lookup("language"))
	_ = viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	viper.SetDefault("language", "en")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("piper.command", "piper")
	viper.SetDefault("piper.length_scale", 1.0)
	viper.SetDefault("kokoro.url", "http://127.0.0.1:8880")
	viper.SetDefault("kokoro.timeout", "2m")
	viper.SetDefault("edge.url", "http://127.0.0.1:5500")
	viper.SetDefault("edge.timeout", "30s")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(configCmd, cacheCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "chaptervoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find a configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "chaptervoice")}, dirs...)
	}
	if c := os.Getenv("CHAPTERVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("chaptervoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("chaptervoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if viper.ConfigFileUsed() == "" && len(dirs) > 0 {
		configFile = filepath.Join(dirs[0], "chaptervoice.yml")
	}
}
