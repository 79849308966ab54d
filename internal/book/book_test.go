package book_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/book"
)

func TestLanguageMatching(t *testing.T) {
	if !book.IsEnglish("en") || !book.IsEnglish("EN-us") || !book.IsEnglish("en-GB") {
		t.Error("english variants not recognized")
	}
	if book.IsEnglish("de") || book.IsEnglish("enx") {
		t.Error("non-english tags matched as english")
	}

	if !book.MatchesLanguage("de-DE", "de") || !book.MatchesLanguage("de", "de-AT") {
		t.Error("primary subtag match failed")
	}
	if book.MatchesLanguage("de-DE", "en") {
		t.Error("mismatched languages matched")
	}
	if book.MatchesLanguage("", "en") {
		t.Error("empty voice language matched")
	}
}

func TestSplitSegments(t *testing.T) {
	text := "First sentence here. Second one follows! Was it a question? Yes.\n\nNew paragraph with Dr. Smith speaking."
	segs := book.SplitSegments(text)

	want := []string{
		"First sentence here.",
		"Second one follows!",
		"Was it a question?",
		"Yes.",
		"New paragraph with Dr. Smith speaking.",
	}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments %q, want %d", len(segs), segs, len(want))
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, segs[i], want[i])
		}
	}
}

func TestLoadTxtDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "02_second.txt"), []byte("Second chapter text."), 0o644)
	os.WriteFile(filepath.Join(dir, "01_first.txt"), []byte("First chapter text. More of it."), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o644)

	b, err := book.LoadTxt(dir, "en-US")
	if err != nil {
		t.Fatal(err)
	}
	if b.Language != "en-us" {
		t.Errorf("language = %q", b.Language)
	}
	if len(b.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(b.Chapters))
	}
	if b.Chapters[0].Title != "01 first" || b.Chapters[1].Title != "02 second" {
		t.Errorf("chapter order: %q, %q", b.Chapters[0].Title, b.Chapters[1].Title)
	}
	if len(b.Chapters[0].Segments) != 2 {
		t.Errorf("first chapter segments = %d, want 2", len(b.Chapters[0].Segments))
	}
	if b.Chapter(b.Chapters[1].ID) == nil {
		t.Error("chapter lookup by id failed")
	}
}

func TestLoadTxtEmptyDir(t *testing.T) {
	if _, err := book.LoadTxt(t.TempDir(), "en"); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
