package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/store"
)

func testClip(ms int) *audio.Clip {
	frames := 22050 * ms / 1000
	return &audio.Clip{
		PCM:        make([]byte, frames*2),
		SampleRate: 22050,
		Channels:   1,
		Duration:   time.Duration(ms) * time.Millisecond,
	}
}

func entry(key store.Key, tier int, model engines.Model) *store.Entry {
	return &store.Entry{
		Key:   key,
		Clip:  testClip(250),
		Tier:  tier,
		Model: model,
		Voice: "v",
	}
}

func TestMonotonicTierNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	key := store.Key{BookID: "b", ChapterID: "c", Index: 0}

	written, err := s.Put(ctx, entry(key, 1, engines.ModelWebSpeech), store.Monotonic)
	if err != nil || !written {
		t.Fatalf("initial put: written=%v err=%v", written, err)
	}

	// Equal tier is a no-op.
	written, err = s.Put(ctx, entry(key, 1, engines.ModelPiper), store.Monotonic)
	if err != nil {
		t.Fatal(err)
	}
	if written {
		t.Fatal("equal-tier put must not overwrite")
	}

	// Lower tier is a no-op.
	written, _ = s.Put(ctx, entry(key, 0, engines.ModelWebSpeech), store.Monotonic)
	if written {
		t.Fatal("lower-tier put must not overwrite")
	}

	// Higher tier wins.
	written, _ = s.Put(ctx, entry(key, 3, engines.ModelKokoro), store.Monotonic)
	if !written {
		t.Fatal("higher-tier put must overwrite")
	}
	if got := s.Tier(ctx, key); got != 3 {
		t.Fatalf("Tier = %d, want 3", got)
	}
}

func TestReplaceModeOverwrites(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	key := store.Key{BookID: "b", ChapterID: "c", Index: 2}

	s.Put(ctx, entry(key, 3, engines.ModelKokoro), store.Monotonic)

	// Model switch: same tier level from another engine replaces.
	written, err := s.Put(ctx, entry(key, 1, engines.ModelPiper), store.Replace)
	if err != nil || !written {
		t.Fatalf("replace put: written=%v err=%v", written, err)
	}
	e, ok := s.Get(ctx, key)
	if !ok || e.Model != engines.ModelPiper || e.Tier != 1 {
		t.Fatalf("entry = %+v, want piper tier 1", e)
	}
}

func TestReleaseChapterDropsOnlyThatChapter(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)

	a := store.Key{BookID: "b", ChapterID: "ch-a", Index: 0}
	b := store.Key{BookID: "b", ChapterID: "ch-b", Index: 0}
	s.Put(ctx, entry(a, 1, engines.ModelWebSpeech), store.Monotonic)
	s.Put(ctx, entry(b, 1, engines.ModelWebSpeech), store.Monotonic)

	if n := s.ReleaseChapter("b", "ch-a"); n != 1 {
		t.Fatalf("released %d entries, want 1", n)
	}
	if _, ok := s.Get(ctx, a); ok {
		t.Fatal("chapter A entry still present after release")
	}
	if _, ok := s.Get(ctx, b); !ok {
		t.Fatal("chapter B entry lost")
	}
}

func TestDiskRoundTripAndPromotion(t *testing.T) {
	ctx := context.Background()
	disk, err := store.OpenDisk(ctx, filepath.Join(t.TempDir(), "segments.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()

	s := store.New(disk, nil)
	key := store.Key{BookID: "b", ChapterID: "c", Index: 7}
	want := entry(key, 2, engines.ModelKokoro)

	if _, err := s.Put(ctx, want, store.Monotonic); err != nil {
		t.Fatal(err)
	}

	// Drop the memory layer; the next Get must come from disk.
	s.ReleaseChapter("b", "c")

	got, ok := s.Get(ctx, key)
	if !ok {
		t.Fatal("entry not found after memory release")
	}
	if got.Tier != 2 || got.Model != engines.ModelKokoro || got.Voice != "v" {
		t.Fatalf("entry = tier %d model %s voice %s", got.Tier, got.Model, got.Voice)
	}
	if got.Clip.SampleRate != 22050 || len(got.Clip.PCM) != len(want.Clip.PCM) {
		t.Fatalf("clip mismatch: rate=%d pcm=%d", got.Clip.SampleRate, len(got.Clip.PCM))
	}
}

func TestDiskMonotonicGuard(t *testing.T) {
	ctx := context.Background()
	disk, err := store.OpenDisk(ctx, filepath.Join(t.TempDir(), "segments.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()

	key := store.Key{BookID: "b", ChapterID: "c", Index: 0}
	if err := disk.Put(ctx, entry(key, 2, engines.ModelKokoro), store.Monotonic); err != nil {
		t.Fatal(err)
	}
	// A stale lower-tier write must not clobber the upgrade.
	if err := disk.Put(ctx, entry(key, 0, engines.ModelWebSpeech), store.Monotonic); err != nil {
		t.Fatal(err)
	}

	got, err := disk.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != 2 {
		t.Fatalf("tier = %d after stale write, want 2", got.Tier)
	}
}

func TestStatsAndWipe(t *testing.T) {
	ctx := context.Background()
	disk, err := store.OpenDisk(ctx, filepath.Join(t.TempDir(), "segments.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()

	s := store.New(disk, nil)
	for i := 0; i < 3; i++ {
		key := store.Key{BookID: "b1", ChapterID: "c", Index: i}
		if _, err := s.Put(ctx, entry(key, 1, engines.ModelWebSpeech), store.Monotonic); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Segments != 3 || stats.Books != 1 || stats.TotalSize == 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.HumanSize() == "" {
		t.Fatal("HumanSize empty")
	}

	if err := s.Wipe(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ = s.Stats(ctx)
	if stats.Segments != 0 {
		t.Fatalf("segments after wipe = %d", stats.Segments)
	}
}
