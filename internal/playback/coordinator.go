// Package playback owns the chapter session: which segment is audible, which
// segments are being generated, and how user intents (click, skip, pause,
// model switch) mutate that state. One session exists at a time; loading a
// chapter tears the previous session down completely before the new one is
// built, so audio from a closed chapter can never be heard under the next.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/book"
	"github.com/dgnsrekt/chaptervoice/internal/engines"
	"github.com/dgnsrekt/chaptervoice/internal/progress"
	"github.com/dgnsrekt/chaptervoice/internal/store"
	"github.com/dgnsrekt/chaptervoice/internal/tier"
)

// LoadOptions configures a new chapter session.
type LoadOptions struct {
	// Model and Voice select the active synthesis configuration. Empty means
	// "use the ladder's low tier for the book's language".
	Model engines.Model
	Voice string

	// Quantization overrides the ladder's quantization for the chosen model.
	Quantization engines.Quantization

	// Speed overrides the configured playback speed when > 0.
	Speed float64

	// StartIndex is where the session begins. The caller supplies a resume
	// checkpoint's index here only after the user chose to resume.
	StartIndex int
}

// Status is a snapshot of the session for rendering.
type Status struct {
	State     StateType
	BookID    string
	ChapterID string
	Index     int
	Total     int
	IsPlaying bool
	Model     engines.Model
	Voice     string
	Speed     float64
	MaxTier   int
	Errored   []int
}

// session holds the per-chapter mutable state. The id is a generation
// counter: async results carry the id they were started under and are
// discarded when it no longer matches.
type session struct {
	id      uint64
	book    *book.Book
	chapter *book.Chapter
	ladder  tier.Ladder

	current int
	playing bool
	paused  bool

	activeModel engines.Model
	activeVoice string
	activeQuant engines.Quantization
	speed       float64

	// playReq increments on every play request; a pending generation only
	// starts playback if its request is still the latest.
	playReq uint64

	errored map[int]error

	ctx    context.Context
	cancel context.CancelFunc
}

// Coordinator drives segment generation and playback for one chapter at a
// time. All exported methods are safe for concurrent use.
type Coordinator struct {
	mu sync.Mutex

	cfg      Config
	registry *engines.Registry
	store    *store.Store
	player   audio.Player
	tracker  *progress.Tracker
	logger   *log.Logger

	machine    *Machine
	session    *session
	sessionSeq uint64

	flights singleflight.Group
	urgent  atomic.Int32

	events chan tea.Msg
	closed bool
}

// New creates a coordinator. tracker may be nil to disable checkpoints.
func New(cfg Config, registry *engines.Registry, st *store.Store, player audio.Player, tracker *progress.Tracker, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		store:    st,
		player:   player,
		tracker:  tracker,
		logger:   logger.WithPrefix("playback"),
		machine:  NewMachine(),
		events:   make(chan tea.Msg, 64),
	}
}

// Events returns the UI message stream. Read it with WaitForEvent.
func (c *Coordinator) Events() <-chan tea.Msg {
	return c.events
}

// GenerationPending reports whether a user-triggered generation is in flight.
// Background workers consult this to back off while the user is waiting.
func (c *Coordinator) GenerationPending() bool {
	return c.urgent.Load() > 0
}

// LoadChapter tears down any previous session, then builds a fresh one for
// the chapter. After it returns no audio or highlight from the previous
// chapter can be observed.
func (c *Coordinator) LoadChapter(b *book.Book, chapterID string, opts LoadOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := b.Chapter(chapterID)
	if ch == nil {
		return fmt.Errorf("chapter %q not found in book %q", chapterID, b.ID)
	}
	if len(ch.Segments) == 0 {
		return ErrNoSegments
	}
	if opts.StartIndex < 0 || opts.StartIndex >= len(ch.Segments) {
		return fmt.Errorf("%w: start index %d of %d", ErrIndexOutOfRange, opts.StartIndex, len(ch.Segments))
	}
	if opts.Model != "" && !opts.Model.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidModel, opts.Model)
	}

	c.stopSessionLocked()
	c.transitionLocked(StateLoading)

	ladder := tier.Resolve(b.Language, c.registry.VoicesFor(engines.ModelPiper))

	model, voice, quant := opts.Model, opts.Voice, opts.Quantization
	if model == "" {
		_, cfg := ladder.Nearest(tier.Low)
		model, voice, quant = cfg.Model, cfg.Voice, cfg.Quantization
	}

	speed := c.cfg.Speed
	if opts.Speed > 0 {
		speed = opts.Speed
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.sessionSeq++
	c.session = &session{
		id:          c.sessionSeq,
		book:        b,
		chapter:     ch,
		ladder:      ladder,
		current:     opts.StartIndex,
		activeModel: model,
		activeVoice: voice,
		activeQuant: quant,
		speed:       speed,
		errored:     make(map[int]error),
		ctx:         ctx,
		cancel:      cancel,
	}

	c.transitionLocked(StateReady)
	c.emitLocked(ChapterLoadedMsg{
		ChapterID: ch.ID,
		Title:     ch.Title,
		Segments:  len(ch.Segments),
		MaxTier:   ladder.MaxAvailableTier,
	})
	c.logger.Info("chapter loaded",
		"book", b.ID, "chapter", ch.ID, "segments", len(ch.Segments),
		"model", model, "maxTier", ladder.MaxAvailableTier)
	return nil
}

// PlayFrom starts playback at the given segment. If audio for the segment is
// already stored under the active model it plays immediately; generation is
// never re-triggered for a segment that has usable audio.
func (c *Coordinator) PlayFrom(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	return c.playFromLocked(s, index)
}

func (c *Coordinator) playFromLocked(s *session, index int) error {
	if index < 0 || index >= len(s.chapter.Segments) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(s.chapter.Segments))
	}

	s.playReq++
	req := s.playReq
	delete(s.errored, index) // a click on an errored segment is a retry

	key := store.Key{BookID: s.book.ID, ChapterID: s.chapter.ID, Index: index}
	if e, ok := c.store.Get(s.ctx, key); ok {
		if c.matchesActiveLocked(s, e) {
			return c.playEntryLocked(s, e, index, req)
		}
		// Stored audio predates a model switch; regenerate under the new
		// model, replacing the stale record.
		return c.startGenerationLocked(s, index, req, store.Replace)
	}
	return c.startGenerationLocked(s, index, req, store.Monotonic)
}

// matchesActiveLocked reports whether a stored entry is playable under the
// session's active model and voice.
func (c *Coordinator) matchesActiveLocked(s *session, e *store.Entry) bool {
	if e.Model != s.activeModel {
		return false
	}
	if s.activeVoice == "" || e.Voice == "" {
		return true
	}
	return e.Voice == s.activeVoice
}

// playEntryLocked makes a stored entry audible and moves the highlight. The
// SegmentActiveMsg is emitted only after the player accepted the clip, so the
// highlight never runs ahead of audio.
func (c *Coordinator) playEntryLocked(s *session, e *store.Entry, index int, req uint64) error {
	done, err := c.player.Play(e.Clip, s.speed)
	if err != nil {
		segErr := &SegmentError{ChapterID: s.chapter.ID, Index: index, Err: err}
		s.errored[index] = segErr
		c.transitionLocked(StateReady)
		c.emitLocked(SegmentErroredMsg{ChapterID: s.chapter.ID, Index: index, Err: segErr})
		return segErr
	}

	s.current = index
	s.playing = true
	s.paused = false
	c.transitionLocked(StatePlaying)
	c.emitLocked(SegmentActiveMsg{
		ChapterID: s.chapter.ID,
		Index:     index,
		Total:     len(s.chapter.Segments),
		Tier:      e.Tier,
		Duration:  e.Clip.Duration,
	})

	c.saveProgress(s.book.ID, s.chapter.ID, index)
	go c.watchDone(s.id, req, index, done)
	c.prefetchLocked(s, index)
	return nil
}

// startGenerationLocked kicks off asynchronous generation for a segment and
// returns immediately. The session stays responsive; a later play request
// supersedes this one for playback without duplicating the generation.
func (c *Coordinator) startGenerationLocked(s *session, index int, req uint64, mode store.PutMode) error {
	t, opts := c.resolveGenerationLocked(s)
	c.transitionLocked(StateGenerating)
	c.emitLocked(SegmentGeneratingMsg{
		ChapterID: s.chapter.ID,
		Index:     index,
		Model:     s.activeModel,
		Tier:      t,
	})

	sid := s.id
	key := store.Key{BookID: s.book.ID, ChapterID: s.chapter.ID, Index: index}
	text := s.chapter.Segments[index].Text
	model := s.activeModel
	sessionCtx := s.ctx

	c.urgent.Add(1)
	go func() {
		defer c.urgent.Add(-1)
		entry, err := c.generate(sessionCtx, sid, key, text, model, t, opts)
		c.onGenerated(sid, req, key, entry, err, mode)
	}()
	return nil
}

// onGenerated applies a finished generation to the session, or discards it if
// the session was torn down in the meantime.
func (c *Coordinator) onGenerated(sid, req uint64, key store.Key, entry *store.Entry, genErr error, mode store.PutMode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || s.id != sid {
		// Session torn down mid-generation: no stored audio, no events.
		return
	}

	if genErr != nil {
		if errors.Is(genErr, context.Canceled) {
			return // expected on teardown, not an error
		}
		segErr := &SegmentError{ChapterID: key.ChapterID, Index: key.Index, Err: genErr}
		s.errored[key.Index] = segErr
		c.emitLocked(SegmentErroredMsg{ChapterID: key.ChapterID, Index: key.Index, Err: segErr})
		c.logger.Error("generation failed", "segment", key, "error", genErr)
		if s.playReq == req {
			c.transitionLocked(StateReady)
			c.emitLocked(PlaybackStateMsg{State: StateReady, Index: s.current, Timestamp: time.Now()})
		}
		return
	}

	if _, err := c.store.Put(s.ctx, entry, mode); err != nil {
		c.logger.Warn("segment persist failed", "segment", key, "error", err)
	}

	if s.playReq != req {
		return // superseded by a later click; audio is cached for later
	}

	// Re-read so a higher-tier upgrade that landed meanwhile wins.
	e, ok := c.store.Get(s.ctx, key)
	if !ok {
		e = entry
	}
	if err := c.playEntryLocked(s, e, key.Index, req); err != nil {
		c.logger.Error("playback start failed", "segment", key, "error", err)
	}
}

// generate produces audio for one segment, deduplicating concurrent requests
// for the same segment+model so a click during a background pre-fetch joins
// the in-flight call instead of starting a second one.
func (c *Coordinator) generate(ctx context.Context, sid uint64, key store.Key, text string, model engines.Model, t int, opts engines.GenerateOptions) (*store.Entry, error) {
	flightKey := fmt.Sprintf("%d/%s/%d/%s/%s", sid, key.ChapterID, key.Index, model, opts.Voice)
	v, err, _ := c.flights.Do(flightKey, func() (interface{}, error) {
		// Another path may have stored this segment while we queued.
		if e, ok := c.store.Get(ctx, key); ok && e.Model == model {
			return e, nil
		}

		eng, err := c.registry.Get(model)
		if err != nil {
			return nil, err
		}

		var clip *audio.Clip
		attempts := c.cfg.RetryAttempts + 1
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.cfg.RetryDelay):
				}
			}
			genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
			clip, err = eng.Generate(genCtx, text, opts)
			cancel()
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("generation attempt failed",
				"segment", key, "attempt", attempt+1, "error", err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}

		return &store.Entry{
			Key:   key,
			Clip:  clip,
			Tier:  t,
			Model: model,
			Voice: opts.Voice,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Entry), nil
}

// resolveGenerationLocked maps the active model/voice onto a ladder tier and
// the options to generate with.
func (c *Coordinator) resolveGenerationLocked(s *session) (int, engines.GenerateOptions) {
	opts := engines.GenerateOptions{
		Voice:        s.activeVoice,
		Quantization: s.activeQuant,
		Speed:        1.0,
	}

	for t := tier.Count - 1; t >= 0; t-- {
		cfg := s.ladder.At(t)
		if cfg == nil || cfg.Model != s.activeModel {
			continue
		}
		if s.activeVoice != "" && cfg.Voice != "" && cfg.Voice != s.activeVoice {
			continue
		}
		if s.activeQuant != engines.QuantNone && cfg.Quantization != engines.QuantNone && cfg.Quantization != s.activeQuant {
			continue
		}
		if opts.Voice == "" {
			opts.Voice = cfg.Voice
		}
		if opts.Quantization == engines.QuantNone {
			opts.Quantization = cfg.Quantization
		}
		return t, opts
	}

	// Model not on the ladder for this language (e.g. edge picked manually);
	// treat it as the low tier.
	if s.activeModel == engines.ModelWebSpeech {
		return tier.Instant, opts
	}
	return tier.Low, opts
}

// prefetchLocked starts sequential background generation for the next few
// segments. Results are only stored; failures are silent (the on-demand path
// retries and reports when the segment is actually clicked).
func (c *Coordinator) prefetchLocked(s *session, after int) {
	if c.cfg.Lookahead <= 0 {
		return
	}

	type job struct {
		key  store.Key
		text string
	}
	var jobs []job
	for i := after + 1; i <= after+c.cfg.Lookahead && i < len(s.chapter.Segments); i++ {
		if _, bad := s.errored[i]; bad {
			continue
		}
		jobs = append(jobs, job{
			key:  store.Key{BookID: s.book.ID, ChapterID: s.chapter.ID, Index: i},
			text: s.chapter.Segments[i].Text,
		})
	}
	if len(jobs) == 0 {
		return
	}

	sid := s.id
	ctx := s.ctx
	model := s.activeModel
	t, opts := c.resolveGenerationLocked(s)

	go func() {
		for _, j := range jobs {
			if ctx.Err() != nil {
				return
			}
			if e, ok := c.store.Get(ctx, j.key); ok && e.Model == model {
				continue
			}
			entry, err := c.generate(ctx, sid, j.key, j.text, model, t, opts)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Debug("prefetch failed", "segment", j.key, "error", err)
				}
				return
			}
			c.mu.Lock()
			alive := c.session != nil && c.session.id == sid
			if alive {
				if _, err := c.store.Put(ctx, entry, store.Monotonic); err != nil {
					c.logger.Warn("prefetch persist failed", "segment", j.key, "error", err)
				}
			}
			c.mu.Unlock()
			if !alive {
				return
			}
		}
	}()
}

// watchDone waits for the current clip to finish and auto-advances. Only the
// latest play request's watcher may act; superseded watchers return quietly.
func (c *Coordinator) watchDone(sid, req uint64, index int, done <-chan struct{}) {
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || s.id != sid || s.playReq != req || !s.playing || s.current != index {
		return
	}
	s.playing = false

	next := index + 1
	if next >= len(s.chapter.Segments) {
		c.transitionLocked(StateReady)
		c.emitLocked(ChapterCompleteMsg{ChapterID: s.chapter.ID})
		c.emitLocked(PlaybackStateMsg{State: StateReady, Index: index, Timestamp: time.Now()})
		c.logger.Info("chapter complete", "chapter", s.chapter.ID)
		return
	}
	if _, bad := s.errored[next]; bad {
		// Never advance silently past an errored segment; the user retries
		// or skips manually.
		c.transitionLocked(StateReady)
		c.emitLocked(PlaybackStateMsg{State: StateReady, Index: index, Timestamp: time.Now()})
		return
	}
	if err := c.playFromLocked(s, next); err != nil {
		c.logger.Error("auto-advance failed", "index", next, "error", err)
	}
}

// Pause suspends playback without moving the highlight.
func (c *Coordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	if !s.playing {
		return ErrNotPlaying
	}
	if err := c.player.Pause(); err != nil {
		return err
	}
	s.playing = false
	s.paused = true
	c.transitionLocked(StatePaused)
	c.emitLocked(PlaybackStateMsg{State: StatePaused, Index: s.current, Timestamp: time.Now()})
	return nil
}

// Resume continues paused playback from the paused position.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	if !s.paused {
		return ErrNotPaused
	}
	if err := c.player.Resume(); err != nil {
		return err
	}
	s.playing = true
	s.paused = false
	c.transitionLocked(StatePlaying)
	c.emitLocked(PlaybackStateMsg{State: StatePlaying, Index: s.current, Timestamp: time.Now()})
	return nil
}

// TogglePlayPause pauses when playing, resumes when paused, and starts the
// current segment when the session is ready but silent.
func (c *Coordinator) TogglePlayPause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	switch {
	case s.playing:
		if err := c.player.Pause(); err != nil {
			return err
		}
		s.playing = false
		s.paused = true
		c.transitionLocked(StatePaused)
		c.emitLocked(PlaybackStateMsg{State: StatePaused, Index: s.current, Timestamp: time.Now()})
		return nil
	case s.paused:
		if err := c.player.Resume(); err != nil {
			return err
		}
		s.playing = true
		s.paused = false
		c.transitionLocked(StatePlaying)
		c.emitLocked(PlaybackStateMsg{State: StatePlaying, Index: s.current, Timestamp: time.Now()})
		return nil
	default:
		return c.playFromLocked(s, s.current)
	}
}

// Skip moves one segment in the given direction. Segment audio has no
// interior seek, so the 10-second skip contract degrades to segment-level
// moves; skipping back restarts the current segment when more than the
// configured threshold of it has played.
func (c *Coordinator) Skip(direction int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}

	if direction >= 0 {
		next := s.current + 1
		if next >= len(s.chapter.Segments) {
			return ErrAtLastSegment
		}
		return c.playFromLocked(s, next)
	}

	if c.player.Position() > c.cfg.SkipRestartThreshold {
		return c.playFromLocked(s, s.current)
	}
	prev := s.current - 1
	if prev < 0 {
		prev = 0
	}
	return c.playFromLocked(s, prev)
}

// SwitchModel records a new active model and voice. Current playback is not
// interrupted; the switch takes effect on the next play request, which will
// detect the stored audio's model mismatch and regenerate.
func (c *Coordinator) SwitchModel(model engines.Model, voice string) error {
	if !model.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidModel, model)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}

	deferred := s.playing || s.paused
	s.activeModel = model
	s.activeVoice = voice
	s.activeQuant = engines.QuantNone // re-resolved from the ladder next play

	c.emitLocked(ModelChangedMsg{Model: model, Voice: voice, Deferred: deferred})
	c.logger.Info("model switched", "model", model, "voice", voice, "deferred", deferred)
	return nil
}

// SetSpeed changes the playback speed multiplier. It applies from the next
// segment; the player cannot restretch a clip that is already audible.
func (c *Coordinator) SetSpeed(speed float64) error {
	if speed < 0.5 || speed > 3.0 {
		return fmt.Errorf("speed must be between 0.5 and 3.0, got %g", speed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.requireSessionLocked()
	if err != nil {
		return err
	}
	s.speed = speed
	c.emitLocked(SpeedChangedMsg{Speed: speed})
	return nil
}

// NotifyUpgrade tells the coordinator a segment's stored audio was replaced
// by a higher tier. The audible clip is swapped at the next segment boundary
// unless hot swapping is enabled, in which case the current segment restarts
// with the upgraded audio (the player has no interior seek).
func (c *Coordinator) NotifyUpgrade(key store.Key, fromTier, toTier int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitLocked(UpgradeAppliedMsg{
		ChapterID: key.ChapterID,
		Index:     key.Index,
		FromTier:  fromTier,
		ToTier:    toTier,
	})

	s := c.session
	if s == nil || !c.cfg.HotSwapUpgrades {
		return
	}
	if s.book.ID != key.BookID || s.chapter.ID != key.ChapterID {
		return
	}
	if s.current == key.Index && s.playing {
		if err := c.playFromLocked(s, key.Index); err != nil {
			c.logger.Warn("upgrade hot swap failed", "segment", key, "error", err)
		}
	}
}

/// Stop tears the session down: audio halted, in-flight generation results
// discarded, the session's in-memory audio released. The persisted checkpoint
// is kept; clearing it is a separate, explicit action.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrSessionNotReady
	}
	c.stopSessionLocked()
	c.emitLocked(PlaybackStateMsg{State: StateStopped, Timestamp: time.Now()})
	return nil
}

func (c *Coordinator) stopSessionLocked() {
	s := c.session
	if s == nil {
		return
	}
	s.cancel()
	if err := c.player.Stop(); err != nil && !errors.Is(err, audio.ErrNotPlaying) {
		c.logger.Warn("player stop failed", "error", err)
	}
	released := c.store.ReleaseChapter(s.book.ID, s.chapter.ID)
	c.session = nil
	c.transitionLocked(StateStopped)
	c.logger.Info("session stopped", "chapter", s.chapter.ID, "released", released)
}

// Status returns a snapshot for rendering.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.machine.Current()}
	s := c.session
	if s == nil {
		return st
	}
	st.BookID = s.book.ID
	st.ChapterID = s.chapter.ID
	st.Index = s.current
	st.Total = len(s.chapter.Segments)
	st.IsPlaying = s.playing
	st.Model = s.activeModel
	st.Voice = s.activeVoice
	st.Speed = s.speed
	st.MaxTier = s.ladder.MaxAvailableTier
	for i := range s.errored {
		st.Errored = append(st.Errored, i)
	}
	return st
}

// Ladder returns the session's resolved quality ladder.
func (c *Coordinator) Ladder() (tier.Ladder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return tier.Ladder{}, false
	}
	return c.session.ladder, true
}

// Checkpoint reads the saved listening position for a book so the caller can
// offer a resume-or-start-over choice. The coordinator never applies a
// checkpoint on its own.
func (c *Coordinator) Checkpoint(ctx context.Context, bookID string) (*progress.Checkpoint, error) {
	if c.tracker == nil {
		return nil, nil
	}
	return c.tracker.Load(ctx, bookID)
}

// ClearCheckpoint removes the saved position for a book.
func (c *Coordinator) ClearCheckpoint(ctx context.Context, bookID string) error {
	if c.tracker == nil {
		return nil
	}
	return c.tracker.Clear(ctx, bookID)
}

// Close stops the session and closes the event stream.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopSessionLocked()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// saveProgress writes a checkpoint, fire-and-forget.
func (c *Coordinator) saveProgress(bookID, chapterID string, index int) {
	if c.tracker == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.tracker.Save(ctx, bookID, chapterID, index); err != nil {
			c.logger.Warn("checkpoint save failed", "book", bookID, "error", err)
			return
		}
		c.mu.Lock()
		c.emitLocked(ProgressSavedMsg{ChapterID: chapterID, Index: index})
		c.mu.Unlock()
	}()
}

func (c *Coordinator) requireSessionLocked() (*session, error) {
	if c.session == nil {
		if c.machine.Current() == StateStopped {
			return nil, ErrSessionStopped
		}
		return nil, ErrSessionNotReady
	}
	return c.session, nil
}

// transitionLocked moves the state machine, tolerating no-op repeats.
func (c *Coordinator) transitionLocked(to StateType) {
	if c.machine.Current() == to {
		return
	}
	if !c.machine.Transition(to) {
		c.logger.Warn("state transition rejected", "from", c.machine.Current(), "to", to)
	}
}

// emitLocked delivers a message to the UI without blocking; when the UI is
// not draining, messages are dropped rather than stalling playback.
func (c *Coordinator) emitLocked(msg tea.Msg) {
	if c.closed {
		return
	}
	select {
	case c.events <- msg:
	default:
		c.logger.Warn("event dropped", "type", fmt.Sprintf("%T", msg))
	}
}
