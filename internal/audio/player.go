package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player is the playback contract the coordinator drives. One clip plays at a
// time; Play returns a channel that closes when the clip ends, naturally or
// via Stop.
type Player interface {
	// Play starts the clip at the given speed multiplier and returns a
	// channel closed when playback ends.
	Play(clip *Clip, speed float64) (<-chan struct{}, error)

	// Pause suspends playback. Resuming continues from the paused position;
	// engines that only support whole-clip playback restart the clip, which
	// is an accepted per-adapter limitation.
	Pause() error

	// Resume continues paused playback.
	Resume() error

	// Stop halts playback and discards the current clip.
	Stop() error

	// Position reports how far into the current clip playback is.
	Position() time.Duration

	// IsPlaying reports whether audio is actively playing (not paused).
	IsPlaying() bool

	// Close releases the audio device.
	Close() error
}

// OtoPlayer plays PCM clips through an oto audio context.
type OtoPlayer struct {
	mu sync.Mutex

	ctx        *oto.Context
	sampleRate int
	channels   int

	current *oto.Player
	clip    *Clip
	speed   float64
	playing bool
	paused  bool

	startedAt  time.Time
	pausedAt   time.Time
	pausedAccu time.Duration

	done   chan struct{}
	closed bool
}

// NewOtoPlayer initializes the audio device. The context is created once and
// reused for every clip; clips at other sample rates are resampled naively.
func NewOtoPlayer(sampleRate, channels int) (*OtoPlayer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio context: %w", err)
	}
	<-ready

	return &OtoPlayer{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		speed:      1.0,
	}, nil
}

// Play implements Player.
func (p *OtoPlayer) Play(clip *Clip, speed float64) (<-chan struct{}, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return nil, ErrEmptyAudio
	}
	if speed <= 0 {
		speed = 1.0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrAlreadyClosed
	}

	p.stopLocked()

	pcm := resample(clip.PCM, clip.Channels, ratioFor(clip, p.sampleRate, speed))
	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	done := make(chan struct{})
	p.current = player
	p.clip = clip
	p.speed = speed
	p.playing = true
	p.paused = false
	p.startedAt = time.Now()
	p.pausedAccu = 0
	p.done = done

	go p.watch(player, done)

	return done, nil
}

// watch closes done once the oto player drains its buffer.
func (p *OtoPlayer) watch(player *oto.Player, done chan struct{}) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.current != player {
			p.mu.Unlock()
			return // superseded or stopped; stopLocked already closed done
		}
		if !p.paused && !player.IsPlaying() {
			p.playing = false
			p.current = nil
			p.clip = nil
			p.done = nil
			p.mu.Unlock()
			player.Close()
			close(done)
			return
		}
		p.mu.Unlock()
	}
}

// Pause implements Player.
func (p *OtoPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || p.paused {
		return ErrNotPlaying
	}
	p.current.Pause()
	p.paused = true
	p.playing = false
	p.pausedAt = time.Now()
	return nil
}

// Resume implements Player.
func (p *OtoPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || !p.paused {
		return ErrNotPlaying
	}
	p.pausedAccu += time.Since(p.pausedAt)
	p.current.Play()
	p.paused = false
	p.playing = true
	return nil
}

// Stop implements Player.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *OtoPlayer) stopLocked() {
	if p.current != nil {
		p.current.Close()
		p.current = nil
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.clip = nil
	p.playing = false
	p.paused = false
}

// Position implements Player. The oto player exposes no playhead, so position
// is wall clock since start minus paused time, scaled by speed.
func (p *OtoPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clip == nil {
		return 0
	}
	elapsed := time.Since(p.startedAt) - p.pausedAccu
	if p.paused {
		elapsed = p.pausedAt.Sub(p.startedAt) - p.pausedAccu
	}
	pos := time.Duration(float64(elapsed) * p.speed)
	if pos > p.clip.Duration {
		pos = p.clip.Duration
	}
	return pos
}

// IsPlaying implements Player.
func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Close implements Player.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrAlreadyClosed
	}
	p.stopLocked()
	p.closed = true
	return nil
}

func ratioFor(clip *Clip, deviceRate int, speed float64) float64 {
	r := float64(clip.SampleRate) / float64(deviceRate)
	return r / speed
}

// resample stretches or shrinks 16-bit PCM by a frame ratio using
// nearest-frame selection. Pitch shifts with speed, matching the sentence
// players the engines were tuned against.
func resample(pcm []byte, channels int, ratio float64) []byte {
	if ratio == 1.0 || channels <= 0 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	frameSize := channels * 2
	frames := len(pcm) / frameSize
	outFrames := int(float64(frames) / ratio)
	if outFrames <= 0 {
		return nil
	}

	out := make([]byte, 0, outFrames*frameSize)
	for i := 0; i < outFrames; i++ {
		src := int(float64(i) * ratio)
		if src >= frames {
			src = frames - 1
		}
		off := src * frameSize
		out = append(out, pcm[off:off+frameSize]...)
	}
	return out
}
