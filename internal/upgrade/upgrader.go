// Package upgrade raises the quality of already-generated segment audio in
// the background. It walks a chapter's stored segments and regenerates each
// at the next available ladder tier, never interrupting playback and never
// writing a tier lower than what is already stored.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/store"
	"github.com/dgnsrekt/chaptervoice/internal/tier"
)

// ResourceGate reports whether background regeneration may run right now.
// Implementations reflect device constraints (battery, thermal, bandwidth)
// or user activity; the upgrader defers while the gate is closed.
type ResourceGate interface {
	CanRunUpgrade() bool
}

// GateFunc adapts a function to the ResourceGate interface.
type GateFunc func() bool

// CanRunUpgrade implements ResourceGate.
func (f GateFunc) CanRunUpgrade() bool { return f() }

// OnUpgradeFunc is notified after a segment's stored audio was replaced by a
// strictly higher tier.
type OnUpgradeFunc func(key store.Key, fromTier, toTier int)

// Config tunes the upgrader.
type Config struct {
	// SegmentInterval is the minimum spacing between regeneration attempts.
	SegmentInterval time.Duration `yaml:"segment_interval" env:"CHAPTERVOICE_UPGRADE_INTERVAL" envDefault:"2s"`

	// Backoff is how long to wait before re-checking a closed resource gate.
	Backoff time.Duration `yaml:"backoff" env:"CHAPTERVOICE_UPGRADE_BACKOFF" envDefault:"5s"`

	// GenerationTimeout bounds a single regeneration call.
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"CHAPTERVOICE_UPGRADE_TIMEOUT" envDefault:"120s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SegmentInterval:   2 * time.Second,
		Backoff:           5 * time.Second,
		GenerationTimeout: 120 * time.Second,
	}
}

// job is one chapter's upgrade walk.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Upgrader runs at most one upgrade walk per chapter. Walks are sequential
// within a chapter, so at most one regeneration attempt is outstanding per
// (chapter, segment) at any time.
type Upgrader struct {
	mu sync.Mutex

	cfg      Config
	registry *engines.Registry
	store    *store.Store
	gate     ResourceGate
	logger   *log.Logger

	limiter   *rate.Limiter
	onUpgrade OnUpgradeFunc

	jobs   map[string]*job // keyed by chapter ID
	closed bool
}

// New creates an upgrader. gate may be nil (always open).
func New(cfg Config, registry *engines.Registry, st *store.Store, gate ResourceGate, logger *log.Logger) *Upgrader {
	if logger == nil {
		logger = log.Default()
	}
	if gate == nil {
		gate = GateFunc(func() bool { return true })
	}
	interval := cfg.SegmentInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Upgrader{
		cfg:      cfg,
		registry: registry,
		store:    st,
		gate:     gate,
		logger:   logger.WithPrefix("upgrade"),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		jobs:     make(map[string]*job),
	}
}

// SetOnUpgrade registers the callback invoked after each applied upgrade.
// Set it before the first Start call.
func (u *Upgrader) SetOnUpgrade(fn OnUpgradeFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onUpgrade = fn
}

// Start begins (or restarts) the upgrade walk for a chapter. A walk already
// running for the chapter is cancelled first.
func (u *Upgrader) Start(b *book.Book, ch *book.Chapter, ladder tier.Ladder) error {
	if ch == nil || len(ch.Segments) == 0 {
		return errors.New("no segments to upgrade")
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return errors.New("upgrader closed")
	}
	if prev, ok := u.jobs[ch.ID]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	u.jobs[ch.ID] = j
	u.mu.Unlock()

	go u.walk(ctx, j, b, ch, ladder)
	return nil
}

// Cancel stops all pending upgrade work for a chapter. Cancelling a chapter
// with no running walk is a no-op, not an error.
func (u *Upgrader) Cancel(chapterID string) {
	u.mu.Lock()
	j, ok := u.jobs[chapterID]
	if ok {
		delete(u.jobs, chapterID)
	}
	u.mu.Unlock()

	if ok {
		j.cancel()
		<-j.done
	}
}

// Close cancels every running walk.
func (u *Upgrader) Close() error {
	u.mu.Lock()
	u.closed = true
	jobs := make([]*job, 0, len(u.jobs))
	for id, j := range u.jobs {
		jobs = append(jobs, j)
		delete(u.jobs, id)
	}
	u.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
	return nil
}

// walk repeatedly passes over the chapter until every stored segment is at
// the ladder's maximum tier or the walk is cancelled. Best effort only: a
// closed gate defers work, a failed regeneration skips the segment for this
// pass.
func (u *Upgrader) walk(ctx context.Context, j *job, b *book.Book, ch *book.Chapter, ladder tier.Ladder) {
	defer close(j.done)
	defer func() {
		u.mu.Lock()
		if u.jobs[ch.ID] == j {
			delete(u.jobs, ch.ID)
		}
		u.mu.Unlock()
	}()

	maxTier := ladder.MaxAvailableTier
	if maxTier <= tier.Instant {
		return // nothing above the instant tier exists for this language
	}

	for {
		progressed, pending := u.pass(ctx, b, ch, ladder, maxTier)
		if ctx.Err() != nil {
			return
		}
		if !pending {
			u.logger.Info("chapter fully upgraded", "chapter", ch.ID, "tier", maxTier)
			return
		}
		if !progressed {
			// Every pending segment was deferred or failed; wait before
			// trying the pass again.
			select {
			case <-ctx.Done():
				return
			case <-time.After(u.cfg.Backoff):
			}
		}
	}
}

// pass attempts one upgrade step for each eligible segment. It reports
// whether any segment was upgraded and whether any remain below maxTier.
func (u *Upgrader) pass(ctx context.Context, b *book.Book, ch *book.Chapter, ladder tier.Ladder, maxTier int) (progressed, pending bool) {
	for i := range ch.Segments {
		if ctx.Err() != nil {
			return progressed, true
		}

		key := store.Key{BookID: b.ID, ChapterID: ch.ID, Index: i}
		cur, ok := u.store.Get(ctx, key)
		if !ok {
			continue // never generated; on-demand playback owns first generation
		}
		if cur.Tier >= maxTier {
			continue
		}
		pending = true

		target, cfg := nextTier(ladder, cur.Tier, maxTier)
		if cfg == nil {
			continue
		}

		if !u.gate.CanRunUpgrade() {
			continue // deferred; the walk backs off and retries
		}
		if err := u.limiter.Wait(ctx); err != nil {
			return progressed, true
		}

		if err := u.upgradeSegment(ctx, key, ch.Segments[i].Text, cur.Tier, target, cfg); err != nil {
			if errors.Is(err, context.Canceled) {
				return progressed, true
			}
			u.logger.Warn("upgrade attempt failed",
				"segment", key, "target", target, "error", err)
			continue
		}
		progressed = true
	}
	return progressed, pending
}

// nextTier finds the lowest available tier strictly above cur.
func nextTier(ladder tier.Ladder, cur, maxTier int) (int, *tier.Config) {
	for t := cur + 1; t <= maxTier; t++ {
		if cfg := ladder.At(t); cfg != nil {
			return t, cfg
		}
	}
	return -1, nil
}

// upgradeSegment regenerates one segment at the target tier and stores it
// under the monotonic guard, so a concurrent higher-tier write is never
// clobbered.
func (u *Upgrader) upgradeSegment(ctx context.Context, key store.Key, text string, from, target int, cfg *tier.Config) error {
	eng, err := u.registry.Get(cfg.Model)
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, u.cfg.GenerationTimeout)
	defer cancel()

	clip, err := eng.Generate(genCtx, text, engines.GenerateOptions{
		Voice:        cfg.Voice,
		Quantization: cfg.Quantization,
		Speed:        1.0,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("regenerate at tier %d: %w", target, err)
	}

	written, err := u.store.Put(ctx, &store.Entry{
		Key:   key,
		Clip:  clip,
		Tier:  target,
		Model: cfg.Model,
		Voice: cfg.Voice,
	}, store.Monotonic)
	if err != nil {
		return err
	}
	if !written {
		// A higher tier landed while we were generating; nothing to apply.
		return nil
	}

	u.mu.Lock()
	fn := u.onUpgrade
	u.mu.Unlock()
	if fn != nil {
		fn(key, from, target)
	}
	u.logger.Debug("segment upgraded", "segment", key, "from", from, "to", target)
	return nil
}
