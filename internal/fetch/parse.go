package fetch

import (
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"quill/internal/store"
)

func feedMetadata(feed *gofeed.Feed) store.FeedMetadata {
	meta := store.FeedMetadata{
		Title:       strings.TrimSpace(feed.Title),
		Description: strings.TrimSpace(feed.Description),
		Link:        strings.TrimSpace(feed.Link),
		Copyright:   strings.TrimSpace(feed.Copyright),
	}
	if feed.ITunesExt != nil && feed.ITunesExt.Author != "" {
		meta.Author = strings.TrimSpace(feed.ITunesExt.Author)
	} else if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		meta.Author = strings.TrimSpace(feed.Authors[0].Name)
	}
	return meta
}

func episodeMetadata(feed *gofeed.Feed) []store.EpisodeMetadata {
	episodes := make([]store.EpisodeMetadata, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		mediaURL := enclosureURL(item)
		if mediaURL == "" {
			// Items without an audio enclosure are not playable episodes.
			continue
		}
		meta := store.EpisodeMetadata{
			GUID:        itemGUID(item, mediaURL),
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			Link:        strings.TrimSpace(item.Link),
			MediaURL:    mediaURL,
		}
		if item.PublishedParsed != nil {
			meta.Published = item.PublishedParsed.UTC()
		}
		if item.ITunesExt != nil {
			meta.Duration = parseITunesDuration(item.ITunesExt.Duration)
			if n, err := strconv.ParseInt(strings.TrimSpace(item.ITunesExt.Episode), 10, 64); err == nil {
				meta.EpisodeNumber = &n
			}
		}
		episodes = append(episodes, meta)
	}
	return episodes
}

// itemGUID prefers the declared GUID and falls back to the enclosure URL,
// then the item link, so feeds with sloppy GUIDs still merge stably.
func itemGUID(item *gofeed.Item, mediaURL string) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if mediaURL != "" {
		return mediaURL
	}
	return strings.TrimSpace(item.Link)
}

func enclosureURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		url := strings.TrimSpace(enc.URL)
		if url == "" {
			continue
		}
		if enc.Type == "" || strings.HasPrefix(enc.Type, "audio/") || strings.HasPrefix(enc.Type, "video/") {
			return url
		}
	}
	return ""
}

// parseITunesDuration accepts the formats seen in the wild: plain seconds
// ("1825"), MM:SS, and HH:MM:SS.
func parseITunesDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if !strings.Contains(raw, ":") {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}
	var total int64
	for _, part := range parts {
		value, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || value < 0 {
			return 0
		}
		total = total*60 + value
	}
	return time.Duration(total) * time.Second
}
