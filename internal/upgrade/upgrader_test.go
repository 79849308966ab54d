package upgrade_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/engines/mock"
	"github.com/dgnsrekt/chaptervoice/internal/store"
	"github.com/dgnsrekt/chaptervoice/internal/tier"
	"github.com/dgnsrekt/chaptervoice/internal/upgrade"
)

func fastConfig() upgrade.Config {
	return upgrade.Config{
		SegmentInterval:   time.Millisecond,
		Backoff:           10 * time.Millisecond,
		GenerationTimeout: 5 * time.Second,
	}
}

func seededFixture(t *testing.T, segTiers map[int]int) (*upgrade.Upgrader, *store.Store, *mock.Engine, *book.Book, *book.Chapter) {
	t.Helper()

	logger := log.New(io.Discard)
	eng := mock.New(engines.ModelKokoro)
	registry := engines.NewRegistry(logger, eng)
	st := store.New(nil, logger)

	b := book.New("Upgrade Book", "Tester", "en")
	b.Chapters = []book.Chapter{{
		ID:    "ch-1",
		Title: "One",
		Segments: []book.Segment{
			{Index: 0, Text: "first words here"},
			{Index: 1, Text: "second words here"},
			{Index: 2, Text: "third words here"},
		},
	}}
	ch := &b.Chapters[0]

	ctx := context.Background()
	for idx, tr := range segTiers {
		key := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: idx}
		entry := &store.Entry{
			Key: key,
			Clip: &audio.Clip{
				PCM:        make([]byte, 2*2205),
				SampleRate: 22050,
				Channels:   1,
				Duration:   100 * time.Millisecond,
			},
			Tier:  tr,
			Model: engines.ModelWebSpeech,
			Voice: "",
		}
		if _, err := st.Put(ctx, entry, store.Replace); err != nil {
			t.Fatal(err)
		}
	}

	u := upgrade.New(fastConfig(), registry, st, nil, logger)
	t.Cleanup(func() { u.Close() })
	return u, st, eng, b, ch
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type upgradeRecord struct {
	key      store.Key
	from, to int
}

type recorder struct {
	mu   sync.Mutex
	recs []upgradeRecord
}

func (r *recorder) record(key store.Key, from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, upgradeRecord{key: key, from: from, to: to})
}

func (r *recorder) all() []upgradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upgradeRecord(nil), r.recs...)
}

func TestWalkUpgradesToMaxTier(t *testing.T) {
	u, st, eng, b, ch := seededFixture(t, map[int]int{0: 0, 1: 0})
	rec := &recorder{}
	u.SetOnUpgrade(rec.record)

	ladder := tier.Resolve(b.Language, nil)
	if err := u.Start(b, ch, ladder); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	key0 := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 0}
	key1 := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 1}
	waitUntil(t, func() bool {
		return st.Tier(ctx, key0) == tier.High && st.Tier(ctx, key1) == tier.High
	})

	// Progressive steps, one tier at a time, never a regression.
	last := map[store.Key]int{key0: 0, key1: 0}
	for _, r := range rec.all() {
		if r.to != r.from+1 {
			t.Fatalf("upgrade %d -> %d is not a single step", r.from, r.to)
		}
		if r.from != last[r.key] {
			t.Fatalf("upgrade for %v out of order: from %d, last %d", r.key, r.from, last[r.key])
		}
		last[r.key] = r.to
	}

	// Tier 0 -> 3 means three regenerations per segment.
	if got := eng.CallsFor(ch.Segments[0].Text); got != 3 {
		t.Fatalf("generate calls for segment 0 = %d, want 3", got)
	}
}

func TestUngeneratedSegmentsNotTouched(t *testing.T) {
	u, st, eng, b, ch := seededFixture(t, map[int]int{0: 0}) // segments 1, 2 never generated

	ladder := tier.Resolve(b.Language, nil)
	u.Start(b, ch, ladder)

	ctx := context.Background()
	key0 := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 0}
	waitUntil(t, func() bool { return st.Tier(ctx, key0) == tier.High })

	if got := eng.CallsFor(ch.Segments[1].Text); got != 0 {
		t.Fatalf("upgrader generated an unplayed segment %d times", got)
	}
	if got := st.Tier(ctx, store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 1}); got != -1 {
		t.Fatalf("unplayed segment acquired stored audio at tier %d", got)
	}
}

func TestCancelStopsWalkImmediately(t *testing.T) {
	u, _, eng, b, ch := seededFixture(t, map[int]int{0: 0, 1: 0, 2: 0})
	eng.Delay = 20 * time.Millisecond

	ladder := tier.Resolve(b.Language, nil)
	u.Start(b, ch, ladder)

	waitUntil(t, func() bool { return eng.CallCount() > 0 })
	u.Cancel(ch.ID)

	calls := eng.CallCount()
	time.Sleep(100 * time.Millisecond)
	if got := eng.CallCount(); got != calls {
		t.Fatalf("engine called %d more times after cancel", got-calls)
	}

	// Cancelling with nothing running is a no-op.
	u.Cancel(ch.ID)
	u.Cancel("never-started")
}

func TestClosedGateDefersWork(t *testing.T) {
	logger := log.New(io.Discard)
	eng := mock.New(engines.ModelKokoro)
	registry := engines.NewRegistry(logger, eng)
	st := store.New(nil, logger)

	b := book.New("Gated", "Tester", "en")
	b.Chapters = []book.Chapter{{
		ID:       "ch-1",
		Segments: []book.Segment{{Index: 0, Text: "gated words"}},
	}}
	ch := &b.Chapters[0]

	key := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 0}
	st.Put(context.Background(), &store.Entry{
		Key: key,
		Clip: &audio.Clip{
			PCM: make([]byte, 100), SampleRate: 22050, Channels: 1,
			Duration: 50 * time.Millisecond,
		},
		Tier:  0,
		Model: engines.ModelWebSpeech,
	}, store.Replace)

	var open sync.Map
	gate := upgrade.GateFunc(func() bool {
		_, ok := open.Load("open")
		return ok
	})

	u := upgrade.New(fastConfig(), registry, st, gate, logger)
	defer u.Close()

	u.Start(b, ch, tier.Resolve(b.Language, nil))

	time.Sleep(50 * time.Millisecond)
	if got := eng.CallCount(); got != 0 {
		t.Fatalf("engine called %d times while gate closed", got)
	}

	open.Store("open", true)
	waitUntil(t, func() bool {
		return st.Tier(context.Background(), key) == tier.High
	})
}

func TestConcurrentHigherTierNotClobbered(t *testing.T) {
	u, st, eng, b, ch := seededFixture(t, map[int]int{0: 0})
	rec := &recorder{}
	u.SetOnUpgrade(rec.record)

	gate := make(chan struct{})
	eng.Gate = gate

	ladder := tier.Resolve(b.Language, nil)
	u.Start(b, ch, ladder)

	waitUntil(t, func() bool { return eng.CallCount() > 0 })

	// While the tier-1 regeneration is in flight, a tier-3 result lands.
	ctx := context.Background()
	key := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: 0}
	st.Put(ctx, &store.Entry{
		Key: key,
		Clip: &audio.Clip{
			PCM: make([]byte, 100), SampleRate: 22050, Channels: 1,
			Duration: 50 * time.Millisecond,
		},
		Tier:  tier.High,
		Model: engines.ModelKokoro,
		Voice: "af_heart",
	}, store.Monotonic)
	close(gate)

	waitUntil(t, func() bool { return st.Tier(ctx, key) == tier.High })
	time.Sleep(50 * time.Millisecond)

	if got := st.Tier(ctx, key); got != tier.High {
		t.Fatalf("tier regressed to %d", got)
	}
	for _, r := range rec.all() {
		if r.to <= tier.Instant || r.to < r.from {
			t.Fatalf("regressive upgrade notified: %+v", r)
		}
		if r.to == 1 {
			t.Fatalf("stale tier-1 result was applied: %+v", r)
		}
	}
}
