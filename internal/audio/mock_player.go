package audio

import (
	"sync"
	"time"
)

// MockPlayer is a Player for tests. Clips either finish after AutoFinish (when
// set) or when the test calls Finish.
type MockPlayer struct {
	mu sync.Mutex

	playing bool
	paused  bool
	clip    *Clip
	speed   float64
	pos     time.Duration
	done    chan struct{}

	// AutoFinish, when > 0, closes the done channel after this delay.
	AutoFinish time.Duration

	PlayCount   int
	PauseCount  int
	ResumeCount int
	StopCount   int

	LastClip  *Clip
	LastSpeed float64

	PlayErr error
}

// NewMockPlayer returns a mock that finishes clips only when told to.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Play implements Player.
func (p *MockPlayer) Play(clip *Clip, speed float64) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.PlayErr != nil {
		return nil, p.PlayErr
	}

	if p.done != nil {
		close(p.done)
	}

	done := make(chan struct{})
	p.done = done
	p.clip = clip
	p.speed = speed
	p.playing = true
	p.paused = false
	p.pos = 0
	p.PlayCount++
	p.LastClip = clip
	p.LastSpeed = speed

	if p.AutoFinish > 0 {
		go func(d chan struct{}) {
			time.Sleep(p.AutoFinish)
			p.mu.Lock()
			if p.done == d {
				p.done = nil
				p.playing = false
				close(d)
			}
			p.mu.Unlock()
		}(done)
	}

	return done, nil
}

// Finish ends the current clip as if it played to completion.
func (p *MockPlayer) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.playing = false
	p.paused = false
}

// SetPosition fakes the playhead for skip-threshold tests.
func (p *MockPlayer) SetPosition(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = d
}

// Pause implements Player.
func (p *MockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return ErrNotPlaying
	}
	p.paused = true
	p.playing = false
	p.PauseCount++
	return nil
}

// Resume implements Player.
func (p *MockPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return ErrNotPlaying
	}
	p.paused = false
	p.playing = true
	p.ResumeCount++
	return nil
}

// Stop implements Player.
func (p *MockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.playing = false
	p.paused = false
	p.clip = nil
	p.StopCount++
	return nil
}

// Position implements Player.
func (p *MockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// IsPlaying implements Player.
func (p *MockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Close implements Player.
func (p *MockPlayer) Close() error {
	return p.Stop()
}
