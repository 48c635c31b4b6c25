package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quill/internal/events"
	"quill/internal/fetch"
	"quill/internal/logging"
	"quill/internal/store"
)

// UpdateFeed schedules a fetch for one feed. A feed that is already
// updating is left alone; the pending fetch covers the request. The
// result arrives on the event bus.
func (m *Manager) UpdateFeed(ctx context.Context, feedID int64) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		feed, err := m.store.FeedByID(ls.ctx, feedID)
		if err != nil {
			return err
		}
		if feed == nil {
			return fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
		}
		m.scheduleUpdate(ls, feed, feed.Source, false)
		return nil
	})
}

// UpdateAll schedules a fetch for every enabled feed and returns how many
// were scheduled. Feeds already updating are skipped.
func (m *Manager) UpdateAll(ctx context.Context) (int, error) {
	scheduled := 0
	err := m.dispatch(ctx, func(ls *loopState) error {
		feeds, err := m.store.EnabledFeeds(ls.ctx)
		if err != nil {
			return err
		}
		for _, feed := range feeds {
			if m.scheduleUpdate(ls, feed, feed.Source, false) {
				scheduled++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return scheduled, nil
}

// AddArchive merges episodes from a supplemental feed document, typically
// a paged archive of older episodes, into an existing subscription. The
// feed's source URL is untouched.
func (m *Manager) AddArchive(ctx context.Context, feedID int64, archiveURL string) error {
	if archiveURL == "" {
		return errors.New("archive URL is empty")
	}
	return m.dispatch(ctx, func(ls *loopState) error {
		feed, err := m.store.FeedByID(ls.ctx, feedID)
		if err != nil {
			return err
		}
		if feed == nil {
			return fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
		}
		m.scheduleUpdate(ls, feed, archiveURL, true)
		return nil
	})
}

// scheduleUpdate marks the feed updating and hands the fetch to a worker.
// Runs on the manager goroutine. Returns false when the feed already has
// an update in flight.
func (m *Manager) scheduleUpdate(ls *loopState, feed *store.Feed, url string, archive bool) bool {
	if _, busy := ls.updating[feed.ID]; busy {
		m.logger.Debug("feed update coalesced", logging.FeedID(feed.ID))
		return false
	}
	ls.updating[feed.ID] = struct{}{}
	ls.inflight++

	if err := m.store.SetFeedStatus(ls.ctx, feed.ID, store.FeedUpdating); err != nil {
		m.logger.Warn("mark feed updating failed", logging.FeedID(feed.ID), logging.Error(err))
	}
	m.bus.Publish(events.FeedUpdateStarted{FeedID: feed.ID})

	go m.runUpdate(ls.ctx, feed.ID, url, archive)
	return true
}

// runUpdate executes one fetch-and-merge on a worker goroutine. The
// semaphore bounds concurrent fetches; once a slot is held the update
// runs to completion even through shutdown, so partially fetched work is
// never lost.
func (m *Manager) runUpdate(runCtx context.Context, feedID int64, url string, archive bool) {
	select {
	case m.sem <- struct{}{}:
	case <-runCtx.Done():
		if err := m.store.SetFeedStatus(context.Background(), feedID, store.FeedIdle); err != nil {
			m.logger.Warn("reset feed status failed", logging.FeedID(feedID), logging.Error(err))
		}
		m.done <- updateResult{feedID: feedID, aborted: true}
		return
	}
	defer func() { <-m.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout+time.Second)
	defer cancel()

	result, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		code := store.ErrCodeNetwork
		var fetchErr *fetch.Error
		if errors.As(err, &fetchErr) {
			code = fetchErr.Code()
		}
		if storeErr := m.store.SetFeedError(ctx, feedID, code); storeErr != nil {
			m.logger.Warn("persist feed error failed", logging.FeedID(feedID), logging.Error(storeErr))
		}
		m.done <- updateResult{feedID: feedID, code: code, err: err}
		return
	}

	inserted, err := m.persistUpdate(ctx, feedID, result, archive)
	if err != nil {
		// The row must not stay stuck in updating until the next
		// process start resets it. A fresh context here, because a
		// persist failure may be the update context expiring.
		if storeErr := m.store.SetFeedError(context.Background(), feedID, store.ErrCodeStorage); storeErr != nil {
			m.logger.Warn("persist feed error failed", logging.FeedID(feedID), logging.Error(storeErr))
		}
		m.done <- updateResult{feedID: feedID, code: store.ErrCodeStorage, err: err}
		return
	}
	m.done <- updateResult{feedID: feedID, newEpisodes: inserted}
}

func (m *Manager) persistUpdate(ctx context.Context, feedID int64, result *fetch.Result, archive bool) (int, error) {
	// Archive documents supplement the episode list only; channel
	// metadata keeps coming from the subscription source.
	if !archive {
		if err := m.store.UpsertFeedMetadata(ctx, feedID, result.Feed); err != nil {
			return 0, err
		}
	}
	inserted, err := m.store.MergeEpisodes(ctx, feedID, result.Episodes)
	if err != nil {
		return 0, err
	}
	if err := m.store.SetFeedError(ctx, feedID, ""); err != nil {
		return 0, err
	}
	return inserted, nil
}
