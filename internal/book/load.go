package book

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// LoadTxt builds a book from plain text. A directory becomes one chapter per
// .txt file (sorted by filename); a single file becomes a one-chapter book.
// Parsing richer formats is left to dedicated importers.
func LoadTxt(path, language string) (*Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open book: %w", err)
	}

	b := New(titleFromPath(path), "", language)

	if !info.IsDir() {
		ch, err := loadChapterFile(path)
		if err != nil {
			return nil, err
		}
		b.Chapters = append(b.Chapters, *ch)
		return b, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read book dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .txt chapters in %s", path)
	}
	sort.Strings(files)

	for _, name := range files {
		ch, err := loadChapterFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		b.Chapters = append(b.Chapters, *ch)
	}
	return b, nil
}

func loadChapterFile(path string) (*Chapter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chapter %s: %w", path, err)
	}

	ch := &Chapter{
		ID:    uuid.NewString(),
		Title: titleFromPath(path),
	}
	for _, text := range SplitSegments(string(raw)) {
		ch.Segments = append(ch.Segments, Segment{Index: len(ch.Segments), Text: text})
	}
	if len(ch.Segments) == 0 {
		return nil, fmt.Errorf("chapter %s has no text", path)
	}
	return ch, nil
}

// SplitSegments breaks text into narration segments: paragraphs first, then a
// naive sentence split inside each. Good enough for plain text; anything
// smarter belongs in a parser collaborator.
func SplitSegments(text string) []string {
	var segments []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(strings.ReplaceAll(para, "\n", " "))
		if para == "" {
			continue
		}
		segments = append(segments, splitSentences(para)...)
	}
	return segments
}

func splitSentences(para string) []string {
	var out []string
	runes := []rune(para)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Only break when followed by whitespace and an upper-case or
			// digit start, so abbreviations mostly stay intact.
			if i+2 < len(runes) && unicode.IsSpace(runes[i+1]) && breaksSentence(runes[i+2]) {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					out = append(out, s)
				}
				start = i + 2
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func breaksSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '“'
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}
