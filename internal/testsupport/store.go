package testsupport

import (
	"context"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewFeed creates a pending feed row for tests using the provided store.
func NewFeed(t testing.TB, st *store.Store, source string) *store.Feed {
	t.Helper()

	feed, err := st.CreateFeedPending(context.Background(), source)
	if err != nil {
		t.Fatalf("store.CreateFeedPending: %v", err)
	}
	return feed
}

// SeedEpisodes merges the given metadata into the feed and returns the
// resulting episode rows, newest first.
func SeedEpisodes(t testing.TB, st *store.Store, feedID int64, metas []store.EpisodeMetadata) []*store.Episode {
	t.Helper()

	ctx := context.Background()
	if _, err := st.MergeEpisodes(ctx, feedID, metas); err != nil {
		t.Fatalf("store.MergeEpisodes: %v", err)
	}
	episodes, err := st.EpisodesByFeed(ctx, feedID, true)
	if err != nil {
		t.Fatalf("store.EpisodesByFeed: %v", err)
	}
	return episodes
}

// EpisodeMeta builds episode metadata with sensible defaults for tests.
func EpisodeMeta(guid, title string, published time.Time) store.EpisodeMetadata {
	return store.EpisodeMetadata{
		GUID:      guid,
		Title:     title,
		MediaURL:  "https://example.com/media/" + guid + ".mp3",
		Published: published,
		Duration:  30 * time.Minute,
	}
}
