package playback

import (
	"fmt"
	"time"
)

// Config contains coordinator tuning options.
type Config struct {
	// Lookahead is how many upcoming segments to pre-generate while playing.
	Lookahead int `yaml:"lookahead" env:"CHAPTERVOICE_LOOKAHEAD" envDefault:"2"`

	// RetryAttempts is how many times a failed generation is retried before
	// the segment is marked errored.
	RetryAttempts int           `yaml:"retry_attempts" env:"CHAPTERVOICE_RETRY_ATTEMPTS" envDefault:"2"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"CHAPTERVOICE_RETRY_DELAY" envDefault:"500ms"`

	// GenerationTimeout bounds a single synthesis call.
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"CHAPTERVOICE_GENERATION_TIMEOUT" envDefault:"60s"`

	// SkipRestartThreshold: skipping back restarts the current segment when
	// more than this much of it has played, otherwise moves to the previous one.
	SkipRestartThreshold time.Duration `yaml:"skip_restart_threshold" env:"CHAPTERVOICE_SKIP_RESTART_THRESHOLD" envDefault:"3s"`

	// HotSwapUpgrades lets an upgraded segment replace the currently audible
	// one mid-play. When false the swap waits for the next segment boundary.
	HotSwapUpgrades bool `yaml:"hot_swap_upgrades" env:"CHAPTERVOICE_HOT_SWAP_UPGRADES" envDefault:"false"`

	// Speed is the playback speed multiplier.
	Speed float64 `yaml:"speed" env:"CHAPTERVOICE_SPEED" envDefault:"1.0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lookahead:            2,
		RetryAttempts:        2,
		RetryDelay:           500 * time.Millisecond,
		GenerationTimeout:    60 * time.Second,
		SkipRestartThreshold: 3 * time.Second,
		HotSwapUpgrades:      false,
		Speed:                1.0,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Lookahead < 0 || c.Lookahead > 10 {
		return fmt.Errorf("lookahead must be between 0 and 10, got %d", c.Lookahead)
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 5 {
		return fmt.Errorf("retry_attempts must be between 0 and 5, got %d", c.RetryAttempts)
	}
	if c.GenerationTimeout < time.Second {
		return fmt.Errorf("generation_timeout must be at least 1 second, got %v", c.GenerationTimeout)
	}
	if c.SkipRestartThreshold < 0 {
		return fmt.Errorf("skip_restart_threshold cannot be negative, got %v", c.SkipRestartThreshold)
	}
	if c.Speed < 0.5 || c.Speed > 3.0 {
		return fmt.Errorf("speed must be between 0.5 and 3.0, got %f", c.Speed)
	}
	return nil
}
