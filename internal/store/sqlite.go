package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
)

// Disk persists segment audio in sqlite so generated chapters survive
// restarts and the upgrader's work is never thrown away.
type Disk struct {
	db *sql.DB
}

// OpenDisk opens (creating if needed) the segment database at path.
func OpenDisk(ctx context.Context, path string) (*Disk, error) {
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

	d := &Disk{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Disk) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS segments (
    book_id     TEXT NOT NULL,
    chapter_id  TEXT NOT NULL,
    seg_index   INTEGER NOT NULL,
    tier        INTEGER NOT NULL,
    model       TEXT NOT NULL,
    voice       TEXT NOT NULL,
    sample_rate INTEGER NOT NULL,
    channels    INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    pcm         BLOB NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (book_id, chapter_id, seg_index)
);
CREATE INDEX IF NOT EXISTS idx_segments_book ON segments(book_id);
`
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init segment schema: %w", err)
	}
	return nil
}

// Get loads one entry, or nil when absent.
func (d *Disk) Get(ctx context.Context, key Key) (*Entry, error) {
	row := d.db.QueryRowContext(ctx, `
SELECT tier, model, voice, sample_rate, channels, duration_ms, pcm, created_at
FROM segments WHERE book_id = ? AND chapter_id = ? AND seg_index = ?`,
		key.BookID, key.ChapterID, key.Index)

	var (
		e          = Entry{Key: key}
		model      string
		sampleRate int
		channels   int
		durationMS int64
		pcm        []byte
		createdAt  int64
	)
	err := row.Scan(&e.Tier, &model, &e.Voice, &sampleRate, &channels, &durationMS, &pcm, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load segment %s: %w", key, err)
	}

	e.Model = engines.Model(model)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.Clip = &audio.Clip{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   time.Duration(durationMS) * time.Millisecond,
	}
	return &e, nil
}

// Put upserts one entry. In Monotonic mode the update clause refuses
// equal-or-lower tiers, so a concurrent lower-tier write can never clobber
// an upgrade.
func (d *Disk) Put(ctx context.Context, e *Entry, mode PutMode) error {
	guard := "WHERE excluded.tier > segments.tier"
	if mode == Replace {
		guard = ""
	}
	q := fmt.Sprintf(`
INSERT INTO segments
    (book_id, chapter_id, seg_index, tier, model, voice, sample_rate, channels, duration_ms, pcm, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (book_id, chapter_id, seg_index) DO UPDATE SET
    tier = excluded.tier,
    model = excluded.model,
    voice = excluded.voice,
    sample_rate = excluded.sample_rate,
    channels = excluded.channels,
    duration_ms = excluded.duration_ms,
    pcm = excluded.pcm,
    created_at = excluded.created_at
%s`, guard)

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, q,
		e.Key.BookID, e.Key.ChapterID, e.Key.Index,
		e.Tier, string(e.Model), e.Voice,
		e.Clip.SampleRate, e.Clip.Channels, e.Clip.Duration.Milliseconds(),
		e.Clip.PCM, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store segment %s: %w", e.Key, err)
	}
	return nil
}

// DeleteChapter removes a chapter's audio.
func (d *Disk) DeleteChapter(ctx context.Context, bookID, chapterID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM segments WHERE book_id = ? AND chapter_id = ?`, bookID, chapterID)
	if err != nil {
		return fmt.Errorf("delete chapter %s/%s: %w", bookID, chapterID, err)
	}
	return nil
}

// Stats enumerates stored audio for storage accounting.
func (d *Disk) Stats(ctx context.Context) (Stats, error) {
	row := d.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT book_id), COALESCE(SUM(LENGTH(pcm)), 0) FROM segments`)

	var s Stats
	if err := row.Scan(&s.Segments, &s.Books, &s.TotalSize); err != nil {
		return Stats{}, fmt.Errorf("segment stats: %w", err)
	}
	return s, nil
}

// Wipe removes every stored segment.
func (d *Disk) Wipe(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM segments`); err != nil {
		return fmt.Errorf("wipe segments: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *Disk) Close() error {
	return d.db.Close()
}
