// Package events fans library and playback notifications out to
// subscribers such as the CLI and log sinks.
package events

import "time"

// Event is implemented by every notification published on the bus.
type Event interface {
	eventName() string
}

// FeedUpdateStarted fires when the library coordinator begins fetching a
// feed.
type FeedUpdateStarted struct {
	FeedID int64
}

// FeedUpdateFinished fires after a successful fetch and merge.
type FeedUpdateFinished struct {
	FeedID      int64
	NewEpisodes int
}

// FeedUpdateFailed fires when a fetch or merge fails; Code is the
// persisted error code.
type FeedUpdateFailed struct {
	FeedID int64
	Code   string
}

// LibraryChanged fires after any administrative mutation: subscriptions
// added or removed, groups changed, episode marks. Subscribers re-read
// the store for detail.
type LibraryChanged struct {
	FeedID    int64
	EpisodeID int64
}

// PlaybackStateChanged fires on every playback state machine transition
// and on position ticks while playing.
type PlaybackStateChanged struct {
	EpisodeID int64
	State     string
	Position  time.Duration
	Duration  time.Duration
}

// VolumeChanged fires when volume or mute changes.
type VolumeChanged struct {
	Volume int
	Muted  bool
}

// RateChanged fires when the playback rate changes.
type RateChanged struct {
	Rate float64
}

func (FeedUpdateStarted) eventName() string    { return "feed_update_started" }
func (FeedUpdateFinished) eventName() string   { return "feed_update_finished" }
func (FeedUpdateFailed) eventName() string     { return "feed_update_failed" }
func (LibraryChanged) eventName() string       { return "library_changed" }
func (PlaybackStateChanged) eventName() string { return "playback_state_changed" }
func (VolumeChanged) eventName() string        { return "volume_changed" }
func (RateChanged) eventName() string          { return "rate_changed" }

// Name returns the stable event name for logging.
func Name(evt Event) string {
	if evt == nil {
		return ""
	}
	return evt.eventName()
}
