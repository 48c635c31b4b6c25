package store

import "time"

// FeedStatus reflects whether the library coordinator currently has an
// update in flight for the feed. It is presentation state and is reset to
// idle when the store opens, since an interrupted process can leave feeds
// stranded in updating.
type FeedStatus string

const (
	FeedIdle     FeedStatus = "idle"
	FeedUpdating FeedStatus = "updating"
)

// EpisodeStatus tracks where an episode sits in its listening lifecycle.
// Transitions are driven by the playback coordinator (started, finished,
// error) and by explicit user marks; a fetch merge never changes status.
type EpisodeStatus string

const (
	EpisodeNew      EpisodeStatus = "new"
	EpisodeSeen     EpisodeStatus = "seen"
	EpisodeStarted  EpisodeStatus = "started"
	EpisodeFinished EpisodeStatus = "finished"
	EpisodeError    EpisodeStatus = "error"
)

// Error codes persisted alongside feed and episode rows. They are stable
// strings rather than numeric codes so the database stays readable and new
// codes never collide with old ones.
const (
	ErrCodeNetwork  = "network"
	ErrCodeHTTP     = "http"
	ErrCodeParse    = "parse"
	ErrCodeTimeout  = "timeout"
	ErrCodeStorage  = "storage"
	ErrCodePlayback = "playback"
)

// Feed is one subscription row.
type Feed struct {
	ID            int64
	Title         string
	Description   string
	Link          string
	Author        string
	Copyright     string
	Source        string
	Enabled       bool
	Status        FeedStatus
	ErrorCode     string
	GroupID       *int64
	TitleOverride string
	AddedAt       time.Time
}

// DisplayTitle returns the user-facing title: the override when one is
// set, otherwise the fetched title, otherwise the source URL so a feed
// that has never fetched successfully still has a name.
func (f *Feed) DisplayTitle() string {
	if f.TitleOverride != "" {
		return f.TitleOverride
	}
	if f.Title != "" {
		return f.Title
	}
	return f.Source
}

// FeedMetadata carries the channel-level fields a successful fetch
// produces. It deliberately has no override or enabled fields; merges
// must not clobber user settings.
type FeedMetadata struct {
	Title       string
	Description string
	Link        string
	Author      string
	Copyright   string
}

// Episode is one item row within a feed.
type Episode struct {
	ID            int64
	FeedID        int64
	GUID          string
	Title         string
	Description   string
	Link          string
	Duration      time.Duration
	Published     time.Time
	EpisodeNumber *int64
	MediaURL      string
	Status        EpisodeStatus
	Position      time.Duration
	ErrorCode     string
	Hidden        bool
}

// EpisodeMetadata carries the item-level fields parsed from a fetched
// feed document. Merging updates exactly these fields on existing rows;
// status, position, error, and hidden belong to the user and survive
// every merge.
type EpisodeMetadata struct {
	GUID          string
	Title         string
	Description   string
	Link          string
	Duration      time.Duration
	Published     time.Time
	EpisodeNumber *int64
	MediaURL      string
}

// Group is a named ordering bucket for feeds.
type Group struct {
	ID       int64
	Name     string
	Ordering int64
}
