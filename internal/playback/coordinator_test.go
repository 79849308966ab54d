package playback_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/engines/mock"
	"github.com/dgnsrekt/chaptervoice/internal/playback"
	"github.com/dgnsrekt/chaptervoice/internal/store"
)

const (
	seg0 = "alpha one"
	seg1 = "bravo two"
	seg2 = "charlie three"
)

func testBook() *book.Book {
	b := book.New("Test Book", "Tester", "en-US")
	b.Chapters = []book.Chapter{
		{
			ID:    "ch-1",
			Title: "One",
			Segments: []book.Segment{
				{Index: 0, Text: seg0},
				{Index: 1, Text: seg1},
				{Index: 2, Text: seg2},
			},
		},
		{
			ID:       "ch-2",
			Title:    "Two",
			Segments: []book.Segment{{Index: 0, Text: "delta four"}},
		},
	}
	return b
}

func testConfig() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.Lookahead = 0
	cfg.RetryAttempts = 0
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.GenerationTimeout = 5 * time.Second
	return cfg
}

type fixture struct {
	coord  *playback.Coordinator
	player *audio.MockPlayer
	store  *store.Store
	kokoro *mock.Engine
	events <-chan tea.Msg
}

func newFixture(t *testing.T, cfg playback.Config, extra ...engines.Engine) *fixture {
	t.Helper()

	logger := log.New(io.Discard)
	kokoro := mock.New(engines.ModelKokoro)
	all := append([]engines.Engine{kokoro}, extra...)
	registry := engines.NewRegistry(logger, all...)

	st := store.New(nil, logger)
	player := audio.NewMockPlayer()
	coord := playback.New(cfg, registry, st, player, nil, logger)
	t.Cleanup(func() { coord.Close() })

	return &fixture{
		coord:  coord,
		player: player,
		store:  st,
		kokoro: kokoro,
		events: coord.Events(),
	}
}

func waitEvent(t *testing.T, events <-chan tea.Msg, match func(tea.Msg) bool) tea.Msg {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func waitActive(t *testing.T, events <-chan tea.Msg, index int) playback.SegmentActiveMsg {
	t.Helper()
	msg := waitEvent(t, events, func(m tea.Msg) bool {
		a, ok := m.(playback.SegmentActiveMsg)
		return ok && a.Index == index
	})
	return msg.(playback.SegmentActiveMsg)
}

func assertNoActive(t *testing.T, events <-chan tea.Msg, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case msg := <-events:
			if a, ok := msg.(playback.SegmentActiveMsg); ok {
				t.Fatalf("unexpected SegmentActiveMsg for index %d", a.Index)
			}
		case <-deadline:
			return
		}
	}
}

func TestClickGeneratesThenPlays(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()

	if err := f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{}); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, f.events, func(m tea.Msg) bool {
		_, ok := m.(playback.ChapterLoadedMsg)
		return ok
	})

	if err := f.coord.PlayFrom(0); err != nil {
		t.Fatal(err)
	}

	// The generating indicator must precede the active event.
	waitEvent(t, f.events, func(m tea.Msg) bool {
		g, ok := m.(playback.SegmentGeneratingMsg)
		return ok && g.Index == 0
	})
	active := waitActive(t, f.events, 0)
	if active.Total != 3 {
		t.Fatalf("active.Total = %d, want 3", active.Total)
	}

	if got := f.kokoro.CallsFor(seg0); got != 1 {
		t.Fatalf("generate calls for segment 0 = %d, want 1", got)
	}
	if !f.player.IsPlaying() {
		t.Fatal("player not playing after active event")
	}
}

func TestNoRedundantGenerationOnReplay(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	// Clicking a segment with stored audio must not touch the engine again.
	for i := 0; i < 3; i++ {
		if err := f.coord.PlayFrom(0); err != nil {
			t.Fatal(err)
		}
		waitActive(t, f.events, 0)
	}

	if got := f.kokoro.CallsFor(seg0); got != 1 {
		t.Fatalf("generate calls for segment 0 = %d, want 1", got)
	}
}

func TestClickDuringPrefetchIsSingleFlight(t *testing.T) {
	cfg := testConfig()
	cfg.Lookahead = 2
	f := newFixture(t, cfg)
	f.kokoro.Delay = 50 * time.Millisecond

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	// Prefetch for segment 1 is now racing this click; both must collapse
	// into one engine call.
	if err := f.coord.PlayFrom(1); err != nil {
		t.Fatal(err)
	}
	waitActive(t, f.events, 1)

	if got := f.kokoro.CallsFor(seg1); got != 1 {
		t.Fatalf("generate calls for segment 1 = %d, want 1", got)
	}
}

func TestStopMidGenerationDiscardsResult(t *testing.T) {
	f := newFixture(t, testConfig())
	gate := make(chan struct{})
	f.kokoro.Gate = gate

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitEvent(t, f.events, func(m tea.Msg) bool {
		g, ok := m.(playback.SegmentGeneratingMsg)
		return ok && g.Index == 0
	})

	if err := f.coord.Stop(); err != nil {
		t.Fatal(err)
	}
	close(gate)

	assertNoActive(t, f.events, 200*time.Millisecond)

	key := store.Key{BookID: b.ID, ChapterID: "ch-1", Index: 0}
	if got := f.store.Tier(context.Background(), key); got != -1 {
		t.Fatalf("stored tier after stop = %d, want none", got)
	}
}

func TestDeferredModelSwitch(t *testing.T) {
	piper := mock.New(engines.ModelPiper)
	f := newFixture(t, testConfig(), piper)

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	if err := f.coord.SwitchModel(engines.ModelPiper, ""); err != nil {
		t.Fatal(err)
	}
	msg := waitEvent(t, f.events, func(m tea.Msg) bool {
		_, ok := m.(playback.ModelChangedMsg)
		return ok
	}).(playback.ModelChangedMsg)
	if !msg.Deferred {
		t.Fatal("switch during playback must be deferred")
	}
	if !f.player.IsPlaying() {
		t.Fatal("model switch interrupted playback")
	}
	if f.player.StopCount != 0 {
		t.Fatalf("player stopped %d times during switch", f.player.StopCount)
	}

	// The next click regenerates under the new model even though segment 0
	// has stored audio from the old one.
	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	if got := piper.CallsFor(seg0); got != 1 {
		t.Fatalf("piper calls for segment 0 = %d, want 1", got)
	}
	if got := f.kokoro.CallsFor(seg0); got != 1 {
		t.Fatalf("kokoro calls for segment 0 = %d, want 1 (no regeneration)", got)
	}
}

func TestLoadChapterTearsDownPreviousSession(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()

	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})
	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	if err := f.coord.LoadChapter(b, "ch-2", playback.LoadOptions{}); err != nil {
		t.Fatal(err)
	}

	if f.player.IsPlaying() {
		t.Fatal("previous chapter audio still playing")
	}
	oldKey := store.Key{BookID: b.ID, ChapterID: "ch-1", Index: 0}
	if _, ok := f.store.Get(context.Background(), oldKey); ok {
		t.Fatal("previous chapter audio still held in memory")
	}

	status := f.coord.Status()
	if status.ChapterID != "ch-2" || status.Index != 0 {
		t.Fatalf("status = %+v, want ch-2/0", status)
	}
}

func TestAutoAdvanceAndChapterComplete(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	f.player.Finish()
	waitActive(t, f.events, 1)

	f.player.Finish()
	waitActive(t, f.events, 2)

	f.player.Finish()
	waitEvent(t, f.events, func(m tea.Msg) bool {
		c, ok := m.(playback.ChapterCompleteMsg)
		return ok && c.ChapterID == "ch-1"
	})

	if st := f.coord.Status(); st.IsPlaying {
		t.Fatal("still playing after chapter complete")
	}
}

func TestErroredSegmentHaltsAutoAdvance(t *testing.T) {
	f := newFixture(t, testConfig())
	f.kokoro.FailText = "bravo"

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitActive(t, f.events, 0)

	// Natural end of segment 0 advances into the failing segment 1.
	f.player.Finish()
	errMsg := waitEvent(t, f.events, func(m tea.Msg) bool {
		e, ok := m.(playback.SegmentErroredMsg)
		return ok && e.Index == 1
	}).(playback.SegmentErroredMsg)

	var segErr *playback.SegmentError
	if !errors.As(errMsg.Err, &segErr) {
		t.Fatalf("errored message carries %T, want *SegmentError", errMsg.Err)
	}
	assertNoActive(t, f.events, 150*time.Millisecond)

	// Clicking the errored segment retries it.
	f.kokoro.FailText = ""
	if err := f.coord.PlayFrom(1); err != nil {
		t.Fatal(err)
	}
	waitActive(t, f.events, 1)
}

func TestInvalidRequestsRejectedSynchronously(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()

	if err := f.coord.PlayFrom(0); !errors.Is(err, playback.ErrSessionNotReady) {
		t.Fatalf("PlayFrom before load = %v, want ErrSessionNotReady", err)
	}

	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})
	if err := f.coord.PlayFrom(3); !errors.Is(err, playback.ErrIndexOutOfRange) {
		t.Fatalf("PlayFrom(3) = %v, want ErrIndexOutOfRange", err)
	}
	if err := f.coord.PlayFrom(-1); !errors.Is(err, playback.ErrIndexOutOfRange) {
		t.Fatalf("PlayFrom(-1) = %v, want ErrIndexOutOfRange", err)
	}
	if got := f.kokoro.CallCount(); got != 0 {
		t.Fatalf("invalid requests reached the engine %d times", got)
	}

	f.coord.Stop()
	if err := f.coord.PlayFrom(0); !errors.Is(err, playback.ErrSessionStopped) {
		t.Fatalf("PlayFrom after stop = %v, want ErrSessionStopped", err)
	}
}

func TestPauseResumeKeepsIndex(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(1)
	waitActive(t, f.events, 1)

	if err := f.coord.Pause(); err != nil {
		t.Fatal(err)
	}
	if st := f.coord.Status(); st.IsPlaying || st.Index != 1 {
		t.Fatalf("status after pause = %+v", st)
	}

	if err := f.coord.Resume(); err != nil {
		t.Fatal(err)
	}
	if st := f.coord.Status(); !st.IsPlaying || st.Index != 1 {
		t.Fatalf("status after resume = %+v", st)
	}
	if f.player.PauseCount != 1 || f.player.ResumeCount != 1 {
		t.Fatalf("pause/resume counts = %d/%d", f.player.PauseCount, f.player.ResumeCount)
	}

	if err := f.coord.Resume(); !errors.Is(err, playback.ErrNotPaused) {
		t.Fatalf("Resume while playing = %v, want ErrNotPaused", err)
	}
}

func TestSkipBackRestartsAfterThreshold(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(1)
	waitActive(t, f.events, 1)

	// Deep into the segment: back restarts it.
	f.player.SetPosition(5 * time.Second)
	if err := f.coord.Skip(-1); err != nil {
		t.Fatal(err)
	}
	waitActive(t, f.events, 1)

	// Near the start: back moves to the previous segment.
	f.player.SetPosition(1 * time.Second)
	if err := f.coord.Skip(-1); err != nil {
		t.Fatal(err)
	}
	waitActive(t, f.events, 0)

	// Forward is segment-level.
	if err := f.coord.Skip(1); err != nil {
		t.Fatal(err)
	}
	waitActive(t, f.events, 1)
}

func TestSkipForwardAtLastSegment(t *testing.T) {
	f := newFixture(t, testConfig())
	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(2)
	waitActive(t, f.events, 2)

	if err := f.coord.Skip(1); !errors.Is(err, playback.ErrAtLastSegment) {
		t.Fatalf("Skip(1) at last segment = %v, want ErrAtLastSegment", err)
	}
}

func TestHotSwapUpgradeRestartsCurrentSegment(t *testing.T) {
	cfg := testConfig()
	cfg.HotSwapUpgrades = true
	f := newFixture(t, cfg)

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	first := waitActive(t, f.events, 0)

	// A background upgrade lands a higher tier for the audible segment.
	key := store.Key{BookID: b.ID, ChapterID: "ch-1", Index: 0}
	upgraded := &store.Entry{
		Key:   key,
		Clip:  f.player.LastClip,
		Tier:  3,
		Model: engines.ModelKokoro,
		Voice: "af_heart",
	}
	if _, err := f.store.Put(context.Background(), upgraded, store.Monotonic); err != nil {
		t.Fatal(err)
	}
	f.coord.NotifyUpgrade(key, first.Tier, 3)

	waitEvent(t, f.events, func(m tea.Msg) bool {
		u, ok := m.(playback.UpgradeAppliedMsg)
		return ok && u.Index == 0 && u.ToTier == 3
	})
	swapped := waitActive(t, f.events, 0)
	if swapped.Tier != 3 {
		t.Fatalf("swapped tier = %d, want 3", swapped.Tier)
	}
	if got := f.kokoro.CallsFor(seg0); got != 1 {
		t.Fatalf("hot swap regenerated audio: %d calls", got)
	}
}

func TestGenerationFailureKeepsSessionUsable(t *testing.T) {
	f := newFixture(t, testConfig())
	f.kokoro.FailText = "alpha"

	b := testBook()
	f.coord.LoadChapter(b, "ch-1", playback.LoadOptions{})

	f.coord.PlayFrom(0)
	waitEvent(t, f.events, func(m tea.Msg) bool {
		e, ok := m.(playback.SegmentErroredMsg)
		return ok && e.Index == 0
	})

	// Other segments still play.
	f.coord.PlayFrom(1)
	waitActive(t, f.events, 1)

	st := f.coord.Status()
	if len(st.Errored) != 1 || st.Errored[0] != 0 {
		t.Fatalf("errored segments = %v, want [0]", st.Errored)
	}
}
