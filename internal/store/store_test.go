package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quill/internal/store"
	"quill/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	feed, err := st.CreateFeedPending(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}
	if feed.ID == 0 {
		t.Fatal("expected feed ID to be assigned")
	}
	if feed.Status != store.FeedIdle {
		t.Fatalf("expected new feed idle, got %q", feed.Status)
	}
	if !feed.Enabled {
		t.Fatal("expected new feed enabled")
	}

	fetched, err := st.FeedBySource(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("FeedBySource failed: %v", err)
	}
	if fetched == nil || fetched.ID != feed.ID {
		t.Fatalf("expected to find inserted feed, got %#v", fetched)
	}
}

func TestCreateFeedPendingRejectsDuplicateSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := st.CreateFeedPending(ctx, "https://example.com/feed.xml"); err != nil {
		t.Fatalf("first CreateFeedPending failed: %v", err)
	}
	_, err := st.CreateFeedPending(ctx, "https://example.com/feed.xml")
	if !errors.Is(err, store.ErrDuplicateSource) {
		t.Fatalf("expected ErrDuplicateSource, got %v", err)
	}
}

func TestOpenResetsUpdatingFeeds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	feed := testsupport.NewFeed(t, st, "https://example.com/feed.xml")
	if err := st.SetFeedStatus(ctx, feed.ID, store.FeedUpdating); err != nil {
		t.Fatalf("SetFeedStatus failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.OpenPath(st.Path())
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	defer reopened.Close()

	fetched, err := reopened.FeedByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if fetched.Status != store.FeedIdle {
		t.Fatalf("expected feed reset to idle, got %q", fetched.Status)
	}
}

func TestUpsertFeedMetadataPreservesUserSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	feed := testsupport.NewFeed(t, st, "https://example.com/feed.xml")
	if err := st.SetFeedTitleOverride(ctx, feed.ID, "My Name"); err != nil {
		t.Fatalf("SetFeedTitleOverride failed: %v", err)
	}
	if err := st.SetFeedEnabled(ctx, feed.ID, false); err != nil {
		t.Fatalf("SetFeedEnabled failed: %v", err)
	}
	if err := st.SetFeedError(ctx, feed.ID, store.ErrCodeNetwork); err != nil {
		t.Fatalf("SetFeedError failed: %v", err)
	}

	err := st.UpsertFeedMetadata(ctx, feed.ID, store.FeedMetadata{
		Title:       "Fetched Title",
		Description: "About the show",
		Link:        "https://example.com",
		Author:      "Host",
	})
	if err != nil {
		t.Fatalf("UpsertFeedMetadata failed: %v", err)
	}

	fetched, err := st.FeedByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if fetched.Title != "Fetched Title" || fetched.Author != "Host" {
		t.Fatalf("metadata not stored: %#v", fetched)
	}
	if fetched.TitleOverride != "My Name" {
		t.Fatalf("title override clobbered: %q", fetched.TitleOverride)
	}
	if fetched.Enabled {
		t.Fatal("enabled flag clobbered by metadata update")
	}
	if fetched.ErrorCode != "" {
		t.Fatalf("expected error cleared, got %q", fetched.ErrorCode)
	}
	if fetched.DisplayTitle() != "My Name" {
		t.Fatalf("DisplayTitle = %q, want override", fetched.DisplayTitle())
	}
}

func TestDisplayTitleFallsBackToSource(t *testing.T) {
	feed := &store.Feed{Source: "https://example.com/feed.xml"}
	if got := feed.DisplayTitle(); got != "https://example.com/feed.xml" {
		t.Fatalf("DisplayTitle = %q, want source", got)
	}
	feed.Title = "Fetched"
	if got := feed.DisplayTitle(); got != "Fetched" {
		t.Fatalf("DisplayTitle = %q, want fetched title", got)
	}
}

func TestDeleteFeedCascadesEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	feed := testsupport.NewFeed(t, st, "https://example.com/feed.xml")
	episodes := testsupport.SeedEpisodes(t, st, feed.ID, []store.EpisodeMetadata{
		testsupport.EpisodeMeta("ep-1", "One", time.Now()),
		testsupport.EpisodeMeta("ep-2", "Two", time.Now()),
	})
	if len(episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(episodes))
	}

	deleted, err := st.DeleteFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("DeleteFeed failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected feed to be deleted")
	}

	ep, err := st.EpisodeByID(ctx, episodes[0].ID)
	if err != nil {
		t.Fatalf("EpisodeByID failed: %v", err)
	}
	if ep != nil {
		t.Fatalf("expected cascade delete, episode survived: %#v", ep)
	}
}
