// Package audio provides decoded audio clips and playback for narration.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Common audio errors.
var (
	ErrEmptyAudio    = errors.New("audio data is empty")
	ErrInvalidWAV    = errors.New("invalid WAV data")
	ErrNotPlaying    = errors.New("no audio is playing")
	ErrAlreadyClosed = errors.New("player already closed")
)

// Clip holds decoded PCM audio for a single segment.
type Clip struct {
	PCM        []byte // 16-bit little-endian PCM
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// DecodeWAV decodes a WAV blob into a 16-bit PCM clip. TTS adapters return
// whole-segment WAV blobs; this is the only decode path the player needs.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.NumFrames() == 0 {
		return nil, ErrEmptyAudio
	}

	return fromPCMBuffer(buf, int(dec.BitDepth))
}

func fromPCMBuffer(buf *gaudio.IntBuffer, bitDepth int) (*Clip, error) {
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, ErrInvalidWAV
	}

	shift := 0
	switch bitDepth {
	case 8:
		shift = 8 // scale up to 16 bits
	case 0, 16:
	case 24:
		shift = -8
	case 32:
		shift = -16
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bitDepth)
	}

	pcm := make([]byte, 0, len(buf.Data)*2)
	var scratch [2]byte
	for _, s := range buf.Data {
		if shift > 0 {
			s <<= uint(shift)
		} else if shift < 0 {
			s >>= uint(-shift)
		}
		binary.LittleEndian.PutUint16(scratch[:], uint16(int16(s)))
		pcm = append(pcm, scratch[0], scratch[1])
	}

	frames := len(buf.Data) / buf.Format.NumChannels
	dur := time.Duration(frames) * time.Second / time.Duration(buf.Format.SampleRate)

	return &Clip{
		PCM:        pcm,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Duration:   dur,
	}, nil
}

// Size returns the PCM payload size in bytes.
func (c *Clip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.PCM)
}
