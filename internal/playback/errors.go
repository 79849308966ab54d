package playback

import (
	"errors"
	"fmt"
)

// Session and request errors. Invalid requests are programmer errors and are
// rejected synchronously, never retried.
var (
	ErrSessionNotReady  = errors.New("no chapter session loaded")
	ErrSessionStopped   = errors.New("session has been stopped")
	ErrIndexOutOfRange  = errors.New("segment index out of range")
	ErrNoSegments       = errors.New("chapter has no segments")
	ErrInvalidModel     = errors.New("unknown model")
	ErrNotPaused        = errors.New("playback is not paused")
	ErrNotPlaying       = errors.New("playback is not active")
	ErrAtFirstSegment   = errors.New("already at first segment")
	ErrAtLastSegment    = errors.New("already at last segment")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrGenerationFailed = errors.New("segment generation failed")
)

// SegmentError marks one segment as errored. The session stays usable; the
// segment can be retried by clicking it again.
type SegmentError struct {
	ChapterID string
	Index     int
	Err       error
}

// Error implements error.
func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d in chapter %s: %v", e.Index, e.ChapterID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SegmentError) Unwrap() error { return e.Err }

// IsInvalidRequest reports whether an error is a synchronous rejection (bad
// index, missing session) rather than a runtime failure.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrSessionNotReady) ||
		errors.Is(err, ErrSessionStopped) ||
		errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrInvalidModel)
}
