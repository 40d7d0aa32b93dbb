package mixer

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned by AddTrack when the bus is full. The bus is unchanged.
	ErrCapacityExceeded = errors.New("mixer: track capacity exceeded")
	// ErrTrackNotFound is returned for an id outside the current display order.
	ErrTrackNotFound = errors.New("mixer: track not found")
	// ErrTrackNotReady is returned when a playback command targets a track that has not decoded.
	ErrTrackNotReady = errors.New("mixer: track not ready")
	// ErrClosed is returned by every method once the bus has shut down.
	ErrClosed = errors.New("mixer: bus closed")
)

// AudioLoadError reports a source that failed to decode. The track stays in
// the bus, silent, in the LoadFailed state.
type AudioLoadError struct {
	TrackID   int
	SourceRef string
	Err       error
}

func (e *AudioLoadError) Error() string {
	return fmt.Sprintf("mixer: track %d (%s) failed to load: %v", e.TrackID, e.SourceRef, e.Err)
}

func (e *AudioLoadError) Unwrap() error {
	return e.Err
}
