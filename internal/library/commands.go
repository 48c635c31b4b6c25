package library

import (
	"context"
	"fmt"

	"quill/internal/events"
	"quill/internal/logging"
	"quill/internal/store"
)

// AddFeed subscribes to a new feed and schedules its first update.
func (m *Manager) AddFeed(ctx context.Context, source string) (*store.Feed, error) {
	var feed *store.Feed
	err := m.dispatch(ctx, func(ls *loopState) error {
		created, err := m.store.CreateFeedPending(ls.ctx, source)
		if err != nil {
			return err
		}
		feed = created
		m.logger.Info("feed added", logging.FeedID(feed.ID), logging.String("source", feed.Source))
		m.bus.Publish(events.LibraryChanged{FeedID: feed.ID})
		m.scheduleUpdate(ls, feed, feed.Source, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// DeleteFeed removes a subscription and its episodes.
func (m *Manager) DeleteFeed(ctx context.Context, feedID int64) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		deleted, err := m.store.DeleteFeed(ls.ctx, feedID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
		}
		m.logger.Info("feed deleted", logging.FeedID(feedID))
		m.bus.Publish(events.LibraryChanged{FeedID: feedID})
		return nil
	})
}

// SetFeedEnabled enables or disables automatic updates for a feed.
func (m *Manager) SetFeedEnabled(ctx context.Context, feedID int64, enabled bool) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		if err := m.store.SetFeedEnabled(ls.ctx, feedID, enabled); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: feedID})
		return nil
	})
}

// RenameFeed sets the display title override; an empty title restores the
// fetched title.
func (m *Manager) RenameFeed(ctx context.Context, feedID int64, title string) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		if err := m.store.SetFeedTitleOverride(ls.ctx, feedID, title); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: feedID})
		return nil
	})
}

// SetFeedGroup assigns a feed to the named group.
func (m *Manager) SetFeedGroup(ctx context.Context, feedID int64, groupName string) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		group, err := m.store.GroupByName(ls.ctx, groupName)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupName)
		}
		if err := m.store.SetFeedGroup(ls.ctx, feedID, group.ID); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: feedID})
		return nil
	})
}

// UnsetFeedGroup removes a feed from its group.
func (m *Manager) UnsetFeedGroup(ctx context.Context, feedID int64) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		if err := m.store.ClearFeedGroup(ls.ctx, feedID); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: feedID})
		return nil
	})
}

// AddGroup creates a new group at the end of the ordering.
func (m *Manager) AddGroup(ctx context.Context, name string) (*store.Group, error) {
	var group *store.Group
	err := m.dispatch(ctx, func(ls *loopState) error {
		created, err := m.store.CreateGroup(ls.ctx, name)
		if err != nil {
			return err
		}
		group = created
		m.bus.Publish(events.LibraryChanged{})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// RenameGroup renames an existing group.
func (m *Manager) RenameGroup(ctx context.Context, name, newName string) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		group, err := m.store.GroupByName(ls.ctx, name)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		if err := m.store.RenameGroup(ls.ctx, group.ID, newName); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{})
		return nil
	})
}

// PlaceGroup moves a group to a 1-based position in the display order.
func (m *Manager) PlaceGroup(ctx context.Context, name string, position int) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		group, err := m.store.GroupByName(ls.ctx, name)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		if err := m.store.PlaceGroup(ls.ctx, group.ID, position); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{})
		return nil
	})
}

// DeleteGroup removes a group; member feeds stay subscribed without one.
func (m *Manager) DeleteGroup(ctx context.Context, name string) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		group, err := m.store.GroupByName(ls.ctx, name)
		if err != nil {
			return err
		}
		if group == nil {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		if _, err := m.store.DeleteGroup(ls.ctx, group.ID); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{})
		return nil
	})
}

// MarkEpisode applies a user-initiated status mark. Only new, seen, and
// finished are manual statuses; started and error belong to playback.
func (m *Manager) MarkEpisode(ctx context.Context, episodeID int64, status store.EpisodeStatus) error {
	switch status {
	case store.EpisodeNew, store.EpisodeSeen, store.EpisodeFinished:
	default:
		return fmt.Errorf("status %q cannot be set manually", status)
	}
	return m.dispatch(ctx, func(ls *loopState) error {
		episode, err := m.store.EpisodeByID(ls.ctx, episodeID)
		if err != nil {
			return err
		}
		if episode == nil {
			return fmt.Errorf("%w: %d", ErrEpisodeNotFound, episodeID)
		}
		if status == store.EpisodeFinished {
			err = m.store.MarkEpisodeFinished(ls.ctx, episodeID)
		} else {
			err = m.store.UpdateEpisodeStatus(ls.ctx, episodeID, status)
		}
		if err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: episode.FeedID, EpisodeID: episodeID})
		return nil
	})
}

// HideEpisode toggles an episode's visibility in listings.
func (m *Manager) HideEpisode(ctx context.Context, episodeID int64, hidden bool) error {
	return m.dispatch(ctx, func(ls *loopState) error {
		episode, err := m.store.EpisodeByID(ls.ctx, episodeID)
		if err != nil {
			return err
		}
		if episode == nil {
			return fmt.Errorf("%w: %d", ErrEpisodeNotFound, episodeID)
		}
		if err := m.store.SetEpisodeHidden(ls.ctx, episodeID, hidden); err != nil {
			return err
		}
		m.bus.Publish(events.LibraryChanged{FeedID: episode.FeedID, EpisodeID: episodeID})
		return nil
	})
}
