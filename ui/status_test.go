package ui

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/playback"
)

func TestStatusBarFollowsEvents(t *testing.T) {
	var s statusBar

	s.onChapterLoaded(playback.ChapterLoadedMsg{ChapterID: "ch", Segments: 10, MaxTier: 3})
	if got := s.render(0); !strings.Contains(got, "ready") || !strings.Contains(got, "1/10") {
		t.Fatalf("after load: %q", got)
	}

	s.onGenerating(playback.SegmentGeneratingMsg{Index: 4, Model: engines.ModelKokoro})
	if got := s.render(0); !strings.Contains(got, "generating") || !strings.Contains(got, "5/10") {
		t.Fatalf("while generating: %q", got)
	}

	s.onActive(playback.SegmentActiveMsg{Index: 4, Total: 10, Tier: 1})
	got := s.render(0)
	if !strings.Contains(got, "playing") || !strings.Contains(got, "tier 1/3") || !strings.Contains(got, "kokoro") {
		t.Fatalf("while playing: %q", got)
	}
}

func TestStatusBarUpgradeBumpsTierOfCurrentSegment(t *testing.T) {
	var s statusBar
	s.onChapterLoaded(playback.ChapterLoadedMsg{Segments: 5, MaxTier: 3})
	s.onActive(playback.SegmentActiveMsg{Index: 2, Total: 5, Tier: 1})

	s.onUpgrade(playback.UpgradeAppliedMsg{Index: 0, FromTier: 1, ToTier: 2})
	if s.tier != 1 {
		t.Fatalf("tier changed for a non-current segment: %d", s.tier)
	}

	s.onUpgrade(playback.UpgradeAppliedMsg{Index: 2, FromTier: 1, ToTier: 3})
	if s.tier != 3 {
		t.Fatalf("tier not bumped for current segment: %d", s.tier)
	}
	if !strings.Contains(s.render(0), "↑2") {
		t.Fatalf("upgrade counter missing: %q", s.render(0))
	}
}

func TestStatusBarErrorMessage(t *testing.T) {
	var s statusBar
	s.onChapterLoaded(playback.ChapterLoadedMsg{Segments: 3, MaxTier: 3})
	s.onErrored(playback.SegmentErroredMsg{Index: 1})

	if got := s.render(0); !strings.Contains(got, "segment 2 failed") {
		t.Fatalf("error message missing: %q", got)
	}
}

func TestStatusBarPadsToWidth(t *testing.T) {
	var s statusBar
	s.onChapterLoaded(playback.ChapterLoadedMsg{Segments: 3, MaxTier: 3})
	_ = s.render(120) // must not panic on wide terminals
}
