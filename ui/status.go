package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/playback"
)

var (
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#C1C6B2")).
			Background(lipgloss.Color("#353533"))

	playingColor    = lipgloss.Color("#04B575")
	pausedColor     = lipgloss.Color("#ECFD65")
	generatingColor = lipgloss.Color("#00AAFF")
	errorColor      = lipgloss.Color("#ED567A")
)

// statusBar accumulates coordinator events into a one-line summary.
type statusBar struct {
	state    playback.StateType
	index    int
	total    int
	tier     int
	maxTier  int
	model    engines.Model
	speed    float64
	message  string
	upgraded int
}

func (s *statusBar) onChapterLoaded(msg playback.ChapterLoadedMsg) {
	s.state = playback.StateReady
	s.index = 0
	s.total = msg.Segments
	s.tier = 0
	s.maxTier = msg.MaxTier
	s.message = ""
	s.upgraded = 0
}

func (s *statusBar) onGenerating(msg playback.SegmentGeneratingMsg) {
	s.state = playback.StateGenerating
	s.index = msg.Index
	s.model = msg.Model
	s.message = ""
}

func (s *statusBar) onActive(msg playback.SegmentActiveMsg) {
	s.state = playback.StatePlaying
	s.index = msg.Index
	s.total = msg.Total
	s.tier = msg.Tier
	s.message = ""
}

func (s *statusBar) onErrored(msg playback.SegmentErroredMsg) {
	s.message = fmt.Sprintf("segment %d failed", msg.Index+1)
}

func (s *statusBar) onState(msg playback.PlaybackStateMsg) {
	s.state = msg.State
}

func (s *statusBar) onComplete() {
	s.state = playback.StateReady
	s.message = "chapter complete"
}

func (s *statusBar) onModelChanged(msg playback.ModelChangedMsg) {
	s.model = msg.Model
	if msg.Deferred {
		s.message = fmt.Sprintf("model %s on next segment", msg.Model)
	} else {
		s.message = fmt.Sprintf("model %s", msg.Model)
	}
}

func (s *statusBar) onUpgrade(msg playback.UpgradeAppliedMsg) {
	s.upgraded++
	if msg.Index == s.index {
		s.tier = msg.ToTier
	}
}

func (s *statusBar) flash(text string) {
	s.message = text
}

func (s *statusBar) stateLabel() (string, lipgloss.Color) {
	switch s.state {
	case playback.StatePlaying:
		return "▶ playing", playingColor
	case playback.StatePaused:
		return "⏸ paused", pausedColor
	case playback.StateGenerating:
		return "⟳ generating", generatingColor
	case playback.StateStopped:
		return "■ stopped", errorColor
	default:
		return "■ ready", lipgloss.Color("#888888")
	}
}

func (s *statusBar) render(width int) string {
	label, color := s.stateLabel()

	parts := []string{lipgloss.NewStyle().Foreground(color).Render(label)}
	if s.total > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d", s.index+1, s.total))
	}
	if s.model != "" {
		parts = append(parts, string(s.model))
	}
	parts = append(parts, fmt.Sprintf("tier %d/%d", s.tier, s.maxTier))
	if s.speed > 0 && s.speed != 1.0 {
		parts = append(parts, fmt.Sprintf("%.2gx", s.speed))
	}
	if s.upgraded > 0 {
		parts = append(parts, fmt.Sprintf("↑%d", s.upgraded))
	}
	if s.message != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(errorColor).Render(s.message))
	}

	line := " " + strings.Join(parts, "  ·  ")
	if width > 0 && lipgloss.Width(line) < width {
		line += strings.Repeat(" ", width-lipgloss.Width(line))
	}
	return statusBarStyle.Render(line)
}
