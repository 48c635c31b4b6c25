// Package player drives the external audio engine. The Adapter interface
// is the seam between the playback coordinator and the engine process;
// every call returns promptly and completion arrives on the event stream.
package player

import (
	"context"
	"time"
)

// EventKind identifies an engine notification.
type EventKind string

const (
	// EventStarted fires once the opened URL is loaded and decoding.
	EventStarted EventKind = "started"
	// EventBuffering fires when the engine stalls on or recovers from
	// an empty cache; Flag carries the direction.
	EventBuffering EventKind = "buffering"
	// EventPosition reports playback progress.
	EventPosition EventKind = "position"
	// EventDuration reports the stream duration once known.
	EventDuration EventKind = "duration"
	// EventEndOfStream fires when the track plays to its end.
	EventEndOfStream EventKind = "end_of_stream"
	// EventFailed reports an unrecoverable engine error; Code matches
	// the persisted playback error codes.
	EventFailed EventKind = "failed"
)

// Playback error codes surfaced through EventFailed.
const (
	ErrCodeOpenFailed = "open_failed"
	ErrCodeDecode     = "decode"
	ErrCodeStream     = "stream"
)

// Event is one engine notification.
type Event struct {
	Kind     EventKind
	Flag     bool
	Position time.Duration
	Code     string
}

// Adapter abstracts the audio engine. Implementations own exactly one
// engine session at a time: Open tears down whatever was playing before
// loading the new URL.
type Adapter interface {
	Open(ctx context.Context, url string, start time.Duration) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SeekAbsolute(ctx context.Context, position time.Duration) error
	SeekRelative(ctx context.Context, delta time.Duration) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, percent int) error
	SetMuted(ctx context.Context, muted bool) error
	Stop(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// ClampVolume bounds a volume percentage to 0..100.
func ClampVolume(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
