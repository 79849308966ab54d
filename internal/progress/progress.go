// Package progress persists listening checkpoints: one (chapter, segment)
// position per book, last write wins. Checkpoints are offered to the user on
// chapter open; the coordinator never applies them on its own.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Checkpoint is a durable listening position.
type Checkpoint struct {
	BookID       string
	ChapterID    string
	SegmentIndex int
	Timestamp    time.Time
}

// Tracker stores checkpoints in sqlite.
type Tracker struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (creating if needed) the checkpoint database at path.
func Open(ctx context.Context, path string) (*Tracker, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS checkpoints (
    book_id    TEXT PRIMARY KEY,
    chapter_id TEXT NOT NULL,
    seg_index  INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}

	return &Tracker{db: db, clock: time.Now}, nil
}

// Save upserts the checkpoint for a book.
func (t *Tracker) Save(ctx context.Context, bookID, chapterID string, segmentIndex int) error {
	_, err := t.db.ExecContext(ctx, `
INSERT INTO checkpoints (book_id, chapter_id, seg_index, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (book_id) DO UPDATE SET
    chapter_id = excluded.chapter_id,
    seg_index = excluded.seg_index,
    updated_at = excluded.updated_at`,
		bookID, chapterID, segmentIndex, t.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", bookID, err)
	}
	return nil
}

// Load returns the checkpoint for a book, or nil when none exists.
func (t *Tracker) Load(ctx context.Context, bookID string) (*Checkpoint, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT chapter_id, seg_index, updated_at FROM checkpoints WHERE book_id = ?`, bookID)

	cp := Checkpoint{BookID: bookID}
	var updatedAt int64
	err := row.Scan(&cp.ChapterID, &cp.SegmentIndex, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", bookID, err)
	}
	cp.Timestamp = time.UnixMilli(updatedAt)
	return &cp, nil
}

// Clear removes the checkpoint for a book. Clearing a missing checkpoint is
// not an error.
func (t *Tracker) Clear(ctx context.Context, bookID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("clear checkpoint for %s: %w", bookID, err)
	}
	return nil
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}
