package progress_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/progress"
)

func openTracker(t *testing.T) *progress.Tracker {
	t.Helper()
	tr, err := progress.Open(context.Background(), filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	if cp, err := tr.Load(ctx, "book-1"); err != nil || cp != nil {
		t.Fatalf("Load before save = %+v, %v; want nil, nil", cp, err)
	}

	if err := tr.Save(ctx, "book-1", "ch-2", 14); err != nil {
		t.Fatal(err)
	}

	cp, err := tr.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.ChapterID != "ch-2" || cp.SegmentIndex != 14 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if cp.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	if err := tr.Clear(ctx, "book-1"); err != nil {
		t.Fatal(err)
	}
	if cp, _ := tr.Load(ctx, "book-1"); cp != nil {
		t.Fatalf("checkpoint after clear = %+v", cp)
	}

	// Clearing again is a no-op, not an error.
	if err := tr.Clear(ctx, "book-1"); err != nil {
		t.Fatal(err)
	}
}

func TestLastWriteWins(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	tr.Save(ctx, "book-1", "ch-1", 3)
	tr.Save(ctx, "book-1", "ch-5", 0)

	cp, err := tr.Load(ctx, "book-1")
	if err != nil {
		t.Fatal(err)
	}
	if cp.ChapterID != "ch-5" || cp.SegmentIndex != 0 {
		t.Fatalf("checkpoint = %+v, want ch-5/0", cp)
	}
}

func TestCheckpointsPerBookIndependent(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	tr.Save(ctx, "book-a", "ch-1", 1)
	tr.Save(ctx, "book-b", "ch-9", 99)

	cpA, _ := tr.Load(ctx, "book-a")
	cpB, _ := tr.Load(ctx, "book-b")
	if cpA == nil || cpA.SegmentIndex != 1 {
		t.Fatalf("book-a checkpoint = %+v", cpA)
	}
	if cpB == nil || cpB.ChapterID != "ch-9" {
		t.Fatalf("book-b checkpoint = %+v", cpB)
	}
}
