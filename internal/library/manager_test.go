package library_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/events"
	"quill/internal/fetch"
	"quill/internal/library"
	"quill/internal/logging"
	"quill/internal/store"
	"quill/internal/testsupport"
)

// fakeFetcher serves canned results per URL and can hold fetches open to
// exercise coalescing.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*fetch.Result
	errs    map[string]error
	block   map[string]chan struct{}
	stall   map[string]bool
	calls   atomic.Int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]*fetch.Result),
		errs:    make(map[string]error),
		block:   make(map[string]chan struct{}),
		stall:   make(map[string]bool),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, source string) (*fetch.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	gate := f.block[source]
	result := f.results[source]
	err := f.errs[source]
	stall := f.stall[source]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if stall {
		// Outlive the update deadline, then hand the result back anyway.
		<-ctx.Done()
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &fetch.Result{}, nil
}

func (f *fakeFetcher) setResult(source string, result *fetch.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[source] = result
}

func (f *fakeFetcher) setError(source string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[source] = err
}

func (f *fakeFetcher) stallUntilDeadline(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall[source] = true
}

func (f *fakeFetcher) hold(source string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[source] = gate
	return gate
}

type harness struct {
	cfg     *config.Config
	store   *store.Store
	fetcher *fakeFetcher
	bus     *events.Bus
	manager *library.Manager
	events  <-chan events.Event
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	fetcher := newFakeFetcher()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	manager := library.NewManager(cfg, st, fetcher, bus, logging.NewNop())
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	ch, cancel := bus.SubscribeBuffer(128)
	t.Cleanup(cancel)

	return &harness{cfg: cfg, store: st, fetcher: fetcher, bus: bus, manager: manager, events: ch}
}

// waitFor blocks until an event matching the predicate arrives.
func (h *harness) waitFor(t *testing.T, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-h.events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(evt) {
				return evt
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func sampleResult(title string, guids ...string) *fetch.Result {
	result := &fetch.Result{Feed: store.FeedMetadata{Title: title}}
	for i, guid := range guids {
		result.Episodes = append(result.Episodes, store.EpisodeMetadata{
			GUID:      guid,
			Title:     guid,
			MediaURL:  "https://example.com/" + guid + ".mp3",
			Published: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		})
	}
	return result
}

func TestAddFeedSchedulesFirstUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.fetcher.setResult("https://example.com/feed.xml", sampleResult("Show", "ep-1", "ep-2"))

	feed, err := h.manager.AddFeed(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	evt := h.waitFor(t, func(evt events.Event) bool {
		finished, ok := evt.(events.FeedUpdateFinished)
		return ok && finished.FeedID == feed.ID
	})
	if finished := evt.(events.FeedUpdateFinished); finished.NewEpisodes != 2 {
		t.Fatalf("expected 2 new episodes, got %d", finished.NewEpisodes)
	}

	stored, err := h.store.FeedByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if stored.Title != "Show" {
		t.Fatalf("metadata not persisted: %#v", stored)
	}
	if stored.Status != store.FeedIdle {
		t.Fatalf("expected feed back to idle, got %q", stored.Status)
	}
}

func TestUpdateCoalescesWhileInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gate := h.fetcher.hold("https://example.com/feed.xml")
	h.fetcher.setResult("https://example.com/feed.xml", sampleResult("Show", "ep-1"))

	feed, err := h.manager.AddFeed(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	h.waitFor(t, func(evt events.Event) bool {
		started, ok := evt.(events.FeedUpdateStarted)
		return ok && started.FeedID == feed.ID
	})

	// These land while the first fetch is held open and must coalesce.
	for i := 0; i < 3; i++ {
		if err := h.manager.UpdateFeed(ctx, feed.ID); err != nil {
			t.Fatalf("UpdateFeed failed: %v", err)
		}
	}
	close(gate)

	h.waitFor(t, func(evt events.Event) bool {
		finished, ok := evt.(events.FeedUpdateFinished)
		return ok && finished.FeedID == feed.ID
	})

	if calls := h.fetcher.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

func TestUpdateAllIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	good, err := h.store.CreateFeedPending(ctx, "https://example.com/good.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}
	bad, err := h.store.CreateFeedPending(ctx, "https://example.com/bad.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}

	h.fetcher.setResult("https://example.com/good.xml", sampleResult("Good", "ep-1"))
	h.fetcher.setError("https://example.com/bad.xml", &fetch.Error{
		Kind:   fetch.KindHTTP,
		Source: "https://example.com/bad.xml", StatusCode: 404,
	})

	scheduled, err := h.manager.UpdateAll(ctx)
	if err != nil {
		t.Fatalf("UpdateAll failed: %v", err)
	}
	if scheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", scheduled)
	}

	h.waitFor(t, func(evt events.Event) bool {
		finished, ok := evt.(events.FeedUpdateFinished)
		return ok && finished.FeedID == good.ID
	})
	failed := h.waitFor(t, func(evt events.Event) bool {
		failure, ok := evt.(events.FeedUpdateFailed)
		return ok && failure.FeedID == bad.ID
	}).(events.FeedUpdateFailed)
	if failed.Code != "http" {
		t.Fatalf("expected http error code, got %q", failed.Code)
	}

	badStored, err := h.store.FeedByID(ctx, bad.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if badStored.ErrorCode != "http" || badStored.Status != store.FeedIdle {
		t.Fatalf("unexpected failed feed state: %#v", badStored)
	}
	goodStored, err := h.store.FeedByID(ctx, good.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if goodStored.ErrorCode != "" || goodStored.Title != "Good" {
		t.Fatalf("failure leaked into healthy feed: %#v", goodStored)
	}
}

func TestPersistFailureResetsFeedStatus(t *testing.T) {
	h := newHarness(t, testsupport.WithFetchTimeout(1))
	ctx := context.Background()

	feed, err := h.store.CreateFeedPending(ctx, "https://example.com/slow.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}

	// The fetch completes only after the update context expires, so every
	// store write during the merge fails.
	h.fetcher.setResult("https://example.com/slow.xml", sampleResult("Slow", "ep-1"))
	h.fetcher.stallUntilDeadline("https://example.com/slow.xml")

	if err := h.manager.UpdateFeed(ctx, feed.ID); err != nil {
		t.Fatalf("UpdateFeed failed: %v", err)
	}

	failed := h.waitFor(t, func(evt events.Event) bool {
		failure, ok := evt.(events.FeedUpdateFailed)
		return ok && failure.FeedID == feed.ID
	}).(events.FeedUpdateFailed)
	if failed.Code != store.ErrCodeStorage {
		t.Fatalf("expected storage error code, got %q", failed.Code)
	}

	stored, err := h.store.FeedByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if stored.Status != store.FeedIdle || stored.ErrorCode != store.ErrCodeStorage {
		t.Fatalf("feed row not reset after persist failure: %#v", stored)
	}
}

func TestUpdateAllSkipsDisabledFeeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	feed, err := h.store.CreateFeedPending(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}
	if err := h.manager.SetFeedEnabled(ctx, feed.ID, false); err != nil {
		t.Fatalf("SetFeedEnabled failed: %v", err)
	}

	scheduled, err := h.manager.UpdateAll(ctx)
	if err != nil {
		t.Fatalf("UpdateAll failed: %v", err)
	}
	if scheduled != 0 {
		t.Fatalf("expected no feeds scheduled, got %d", scheduled)
	}
}

func TestAddArchiveMergesWithoutTouchingSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.fetcher.setResult("https://example.com/feed.xml", sampleResult("Show", "ep-1"))
	feed, err := h.manager.AddFeed(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	h.waitFor(t, func(evt events.Event) bool {
		finished, ok := evt.(events.FeedUpdateFinished)
		return ok && finished.FeedID == feed.ID
	})

	h.fetcher.setResult("https://example.com/archive.xml", sampleResult("Stale Archive Title", "old-1", "old-2"))
	if err := h.manager.AddArchive(ctx, feed.ID, "https://example.com/archive.xml"); err != nil {
		t.Fatalf("AddArchive failed: %v", err)
	}
	finished := h.waitFor(t, func(evt events.Event) bool {
		evtFinished, ok := evt.(events.FeedUpdateFinished)
		return ok && evtFinished.FeedID == feed.ID
	}).(events.FeedUpdateFinished)
	if finished.NewEpisodes != 2 {
		t.Fatalf("expected 2 archive episodes, got %d", finished.NewEpisodes)
	}

	stored, err := h.store.FeedByID(ctx, feed.ID)
	if err != nil {
		t.Fatalf("FeedByID failed: %v", err)
	}
	if stored.Source != "https://example.com/feed.xml" {
		t.Fatalf("archive changed source: %q", stored.Source)
	}
	if stored.Title != "Show" {
		t.Fatalf("archive clobbered metadata: %q", stored.Title)
	}

	episodes, err := h.store.EpisodesByFeed(ctx, feed.ID, false)
	if err != nil {
		t.Fatalf("EpisodesByFeed failed: %v", err)
	}
	if len(episodes) != 3 {
		t.Fatalf("expected 3 episodes after archive merge, got %d", len(episodes))
	}
}

func TestGroupAndEpisodeCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	feed, err := h.store.CreateFeedPending(ctx, "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("CreateFeedPending failed: %v", err)
	}
	episodes := testsupport.SeedEpisodes(t, h.store, feed.ID, []store.EpisodeMetadata{
		testsupport.EpisodeMeta("ep-1", "One", time.Now()),
	})

	if _, err := h.manager.AddGroup(ctx, "Tech"); err != nil {
		t.Fatalf("AddGroup failed: %v", err)
	}
	if err := h.manager.SetFeedGroup(ctx, feed.ID, "Tech"); err != nil {
		t.Fatalf("SetFeedGroup failed: %v", err)
	}
	if err := h.manager.SetFeedGroup(ctx, feed.ID, "Missing"); err == nil {
		t.Fatal("expected error for unknown group")
	}
	if err := h.manager.RenameGroup(ctx, "Tech", "Technology"); err != nil {
		t.Fatalf("RenameGroup failed: %v", err)
	}
	if err := h.manager.UnsetFeedGroup(ctx, feed.ID); err != nil {
		t.Fatalf("UnsetFeedGroup failed: %v", err)
	}
	if err := h.manager.DeleteGroup(ctx, "Technology"); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	if err := h.manager.MarkEpisode(ctx, episodes[0].ID, store.EpisodeFinished); err != nil {
		t.Fatalf("MarkEpisode failed: %v", err)
	}
	if err := h.manager.MarkEpisode(ctx, episodes[0].ID, store.EpisodeError); err == nil {
		t.Fatal("expected manual error mark to be rejected")
	}
	if err := h.manager.HideEpisode(ctx, episodes[0].ID, true); err != nil {
		t.Fatalf("HideEpisode failed: %v", err)
	}

	ep, err := h.store.EpisodeByID(ctx, episodes[0].ID)
	if err != nil {
		t.Fatalf("EpisodeByID failed: %v", err)
	}
	if ep.Status != store.EpisodeFinished || !ep.Hidden {
		t.Fatalf("unexpected episode state: %#v", ep)
	}
}

func TestCommandsAfterStopAreRefused(t *testing.T) {
	h := newHarness(t)
	h.manager.Stop()

	if _, err := h.manager.AddFeed(context.Background(), "https://example.com/feed.xml"); err == nil {
		t.Fatal("expected error after Stop")
	}
}
