// Package store keeps generated segment audio. A fast in-memory session
// layer sits in front of an optional sqlite-backed durable layer; at most
// one record exists per (book, chapter, segment) and its quality tier never
// decreases except through an explicit model-switch replacement.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Key addresses one segment's audio.
type Key struct {
	BookID    string
	ChapterID string
	Index     int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.BookID, k.ChapterID, k.Index)
}

// Entry is a stored generation result.
type Entry struct {
	Key       Key
	Clip      *audio.Clip
	Tier      int
	Model     engines.Model
	Voice     string
	CreatedAt time.Time
}

// PutMode controls the tier guard on writes.
type PutMode int

const (
	// Monotonic rejects writes at an equal-or-lower tier than the stored
	// entry. This is the default for generation and upgrades.
	Monotonic PutMode = iota

	// Replace overwrites unconditionally. Used when the active model
	// changed and the stored audio is stale for playback.
	Replace
)

// Stats summarizes the durable layer for storage accounting.
type Stats struct {
	Segments  int
	Books     int
	TotalSize int64
}

// HumanSize renders the total size for display.
func (s Stats) HumanSize() string {
	return humanize.Bytes(uint64(s.TotalSize))
}

// Store combines the session memory layer with the durable layer. The
// durable layer may be nil (memory-only operation, e.g. tests).
type Store struct {
	mem    *Memory
	disk   *Disk
	logger *log.Logger
}

// New creates a store. disk may be nil.
func New(disk *Disk, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		mem:    NewMemory(),
		disk:   disk,
		logger: logger.WithPrefix("store"),
	}
}

// Get returns the stored entry for a key, checking memory first and
// promoting disk hits into memory.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, bool) {
	if e, ok := s.mem.Get(key); ok {
		return e, true
	}
	if s.disk == nil {
		return nil, false
	}
	e, err := s.disk.Get(ctx, key)
	if err != nil || e == nil {
		if err != nil {
			s.logger.Warn("disk read failed", "key", key, "error", err)
		}
		return nil, false
	}
	s.mem.Put(e, Replace) // promotion, not a quality decision
	return e, true
}

// Put stores an entry under the given mode. It reports whether the entry was
// written; a Monotonic write at an equal-or-lower tier is a no-op returning
// false, not an error.
func (s *Store) Put(ctx context.Context, e *Entry, mode PutMode) (bool, error) {
	written := s.mem.Put(e, mode)
	if !written {
		return false, nil
	}
	if s.disk != nil {
		if err := s.disk.Put(ctx, e, mode); err != nil {
			return true, fmt.Errorf("persist segment %s: %w", e.Key, err)
		}
	}
	return true, nil
}

// Tier returns the stored tier for a key, or -1 when absent.
func (s *Store) Tier(ctx context.Context, key Key) int {
	if e, ok := s.Get(ctx, key); ok {
		return e.Tier
	}
	return -1
}

// ReleaseChapter drops every in-memory entry for a chapter, releasing the
// audio buffers a closed session held. Durable copies are kept.
func (s *Store) ReleaseChapter(bookID, chapterID string) int {
	return s.mem.ReleaseChapter(bookID, chapterID)
}

// EvictChapter removes a chapter from both layers.
func (s *Store) EvictChapter(ctx context.Context, bookID, chapterID string) error {
	s.mem.ReleaseChapter(bookID, chapterID)
	if s.disk == nil {
		return nil
	}
	return s.disk.DeleteChapter(ctx, bookID, chapterID)
}

// Stats enumerates the durable layer.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.disk == nil {
		return Stats{}, nil
	}
	return s.disk.Stats(ctx)
}

// Wipe removes all stored audio from both layers.
func (s *Store) Wipe(ctx context.Context) error {
	s.mem.Clear()
	if s.disk == nil {
		return nil
	}
	return s.disk.Wipe(ctx)
}

// Close closes the durable layer.
func (s *Store) Close() error {
	s.mem.Clear()
	if s.disk == nil {
		return nil
	}
	return s.disk.Close()
}
