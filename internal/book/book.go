// Package book defines the text model narration operates on: a Book made of
// ordered Chapters, each an ordered sequence of Segments.
package book

import (
	"strings"

	"github.com/google/uuid"
)

// Book is the parsed e-book. Immutable once created; per-chapter generation
// state lives outside this package.
type Book struct {
	ID       string
	Title    string
	Author   string
	Language string
	Chapters []Chapter
}

// Chapter belongs to exactly one book. Segment order is playback order and is
// never reordered.
type Chapter struct {
	ID       string
	Title    string
	Segments []Segment
}

// Segment is the smallest unit of narrated text. The index is 0-based and
// stable within its chapter.
type Segment struct {
	Index int
	Text  string
}

// New creates a book with a fresh ID.
func New(title, author, language string) *Book {
	return &Book{
		ID:       uuid.NewString(),
		Title:    title,
		Author:   author,
		Language: NormalizeLanguage(language),
	}
}

// Chapter returns the chapter with the given ID, or nil.
func (b *Book) Chapter(id string) *Chapter {
	for i := range b.Chapters {
		if b.Chapters[i].ID == id {
			return &b.Chapters[i]
		}
	}
	return nil
}

// NormalizeLanguage lowercases a BCP-47-ish tag and trims whitespace, so that
// "EN-us " and "en-US" compare equal.
func NormalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// IsEnglish reports whether a normalized language tag is English ("en" or any
// "en-*" subtag).
func IsEnglish(lang string) bool {
	lang = NormalizeLanguage(lang)
	return lang == "en" || strings.HasPrefix(lang, "en-")
}

// MatchesLanguage reports whether a voice language tag matches the requested
// language by primary subtag ("de" matches "de-DE" and vice versa).
func MatchesLanguage(voiceLang, lang string) bool {
	v := primarySubtag(voiceLang)
	l := primarySubtag(lang)
	return v != "" && v == l
}

func primarySubtag(lang string) string {
	lang = NormalizeLanguage(lang)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		return lang[:i]
	}
	return lang
}
