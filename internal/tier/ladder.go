// Package tier resolves the quality ladder for a language: four ranked
// tiers, each naming an engine, voice, and quantization. Tier 0 is the
// instant web_speech tier and is always available; higher tiers trade
// startup latency for perceptual quality.
package tier

import (
	"sort"

	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Tiers runs 0 (fastest, lowest quality) through 3 (highest quality).
const (
	Instant = 0
	Low     = 1
	Medium  = 2
	High    = 3

	Count = 4
)

// Config names the engine+voice+quantization for one tier.
type Config struct {
	Model        engines.Model
	Voice        string
	Quantization engines.Quantization
}

// Ladder is the resolved quality ladder. A nil tier entry means "not
// available for this language", never "same as the previous tier".
type Ladder struct {
	Tiers            [Count]*Config
	MaxAvailableTier int
}

// kokoroVoice is the default English voice for the kokoro tiers.
const kokoroVoice = "af_heart"

// Resolve builds the ladder for a language from the Piper voices installed
// for it. English always gets the kokoro ladder regardless of Piper voices;
// kokoro is assumed available for English. Non-English ladders are built
// from Piper voices only, so a language with no installed voices has just
// the instant tier.
func Resolve(language string, piperVoices []engines.Voice) Ladder {
	var l Ladder
	l.Tiers[Instant] = &Config{Model: engines.ModelWebSpeech}

	if book.IsEnglish(language) {
		l.Tiers[Low] = &Config{Model: engines.ModelKokoro, Voice: kokoroVoice, Quantization: engines.QuantQ4}
		l.Tiers[Medium] = &Config{Model: engines.ModelKokoro, Voice: kokoroVoice, Quantization: engines.QuantQ8}
		l.Tiers[High] = &Config{Model: engines.ModelKokoro, Voice: kokoroVoice, Quantization: engines.QuantFP16}
		l.MaxAvailableTier = High
		return l
	}

	matching := filterByLanguage(piperVoices, language)
	if len(matching) == 0 {
		l.MaxAvailableTier = Instant
		return l
	}

	// Ascending declared quality; stable so equal-quality voices keep their
	// supplied order.
	sort.SliceStable(matching, func(i, j int) bool {
		return engines.QualityRank(matching[i].Quality) < engines.QualityRank(matching[j].Quality)
	})

	lowest := matching[0]
	l.Tiers[Low] = &Config{Model: engines.ModelPiper, Voice: lowest.ID}

	if mid := pickMid(matching, lowest); mid != nil {
		l.Tiers[Medium] = &Config{Model: engines.ModelPiper, Voice: mid.ID}
	}
	if high := pickHigh(matching, l.Tiers[Medium]); high != nil {
		l.Tiers[High] = &Config{Model: engines.ModelPiper, Voice: high.ID}
	}

	l.MaxAvailableTier = Instant
	for t := Count - 1; t > Instant; t-- {
		if l.Tiers[t] != nil {
			l.MaxAvailableTier = t
			break
		}
	}
	return l
}

// pickMid selects the best remaining voice below "high" that outranks the
// tier-1 voice. Returning nil leaves tier 2 unavailable.
func pickMid(sorted []engines.Voice, lowest engines.Voice) *engines.Voice {
	var best *engines.Voice
	for i := range sorted {
		v := &sorted[i]
		if v.ID == lowest.ID {
			continue
		}
		rank := engines.QualityRank(v.Quality)
		if rank >= engines.QualityRank("high") {
			continue
		}
		if rank <= engines.QualityRank(lowest.Quality) && v.Quality == lowest.Quality {
			continue
		}
		if best == nil || rank > engines.QualityRank(best.Quality) {
			best = v
		}
	}
	return best
}

// pickHigh selects a declared-high voice not already used by tier 2.
func pickHigh(sorted []engines.Voice, midCfg *Config) *engines.Voice {
	for i := len(sorted) - 1; i >= 0; i-- {
		v := &sorted[i]
		if v.Quality != "high" {
			continue
		}
		if midCfg != nil && midCfg.Voice == v.ID {
			continue
		}
		return v
	}
	return nil
}

func filterByLanguage(voices []engines.Voice, language string) []engines.Voice {
	var out []engines.Voice
	for _, v := range voices {
		if book.MatchesLanguage(v.Language, language) {
			out = append(out, v)
		}
	}
	return out
}

// At returns the tier's config, or nil when the tier is unavailable or out
// of range. Callers must not substitute another tier silently; use Nearest
// to pick a lower tier explicitly.
func (l Ladder) At(t int) *Config {
	if t < 0 || t >= Count {
		return nil
	}
	return l.Tiers[t]
}

// Nearest returns the highest available tier at or below t, and its config.
// Tier 0 is always available, so this never fails for t >= 0.
func (l Ladder) Nearest(t int) (int, *Config) {
	if t >= Count {
		t = Count - 1
	}
	for ; t > 0; t-- {
		if l.Tiers[t] != nil {
			return t, l.Tiers[t]
		}
	}
	return Instant, l.Tiers[Instant]
}
