package playback

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Messages for Bubble Tea communication between the coordinator and UI.

// ChapterLoadedMsg indicates a chapter session is ready.
type ChapterLoadedMsg struct {
	ChapterID string
	Title     string
	Segments  int
	MaxTier   int // Highest tier the ladder can produce for this chapter
}

// SegmentGeneratingMsg indicates the clicked segment has no audio yet and is
// being synthesized. The UI shows a spinner on this segment.
type SegmentGeneratingMsg struct {
	ChapterID string
	Index     int
	Model     engines.Model
	Tier      int
}

// SegmentActiveMsg indicates a segment just became audible. The highlight must
// move when (and only when) this message arrives.
type SegmentActiveMsg struct {
	ChapterID string
	Index     int
	Total     int
	Tier      int
	Duration  time.Duration
}

// SegmentErroredMsg indicates generation for one segment failed after retries.
type SegmentErroredMsg struct {
	ChapterID string
	Index     int
	Err       error
}

// PlaybackStateMsg indicates the session state changed.
type PlaybackStateMsg struct {
	State     StateType
	PrevState StateType
	Index     int
	Timestamp time.Time
}

// ChapterCompleteMsg indicates the final segment of the chapter finished.
type ChapterCompleteMsg struct {
	ChapterID string
}

// ModelChangedMsg indicates a model switch took effect.
type ModelChangedMsg struct {
	Model    engines.Model
	Voice    string
	Deferred bool // True when the switch was recorded without interrupting audio
}

// UpgradeAppliedMsg indicates a segment's audio was replaced by a higher tier.
type UpgradeAppliedMsg struct {
	ChapterID string
	Index     int
	FromTier  int
	ToTier    int
}

// ProgressSavedMsg indicates a checkpoint write completed.
type ProgressSavedMsg struct {
	ChapterID string
	Index     int
}

// SpeedChangedMsg indicates the playback speed changed.
type SpeedChangedMsg struct {
	Speed float64
}

// WaitForEvent returns a command that delivers the coordinator's next event
// to the Bubble Tea loop. Re-issue it after every received message.
func WaitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}
