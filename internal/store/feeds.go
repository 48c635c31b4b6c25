package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateSource reports an attempt to add a feed whose source URL is
// already subscribed.
var ErrDuplicateSource = errors.New("feed source already exists")

// CreateFeedPending inserts a new subscription before its first fetch. The
// row carries only the source URL; metadata arrives with the first
// successful update. Returns ErrDuplicateSource when the URL is already in
// the library.
func (s *Store) CreateFeedPending(ctx context.Context, source string) (*Feed, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("feed source is empty")
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO feeds (source, added_at) VALUES (?, ?)`,
		source,
		formatTimestamp(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, source)
		}
		return nil, fmt.Errorf("insert feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.FeedByID(ctx, id)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// FeedByID fetches a feed by identifier. Returns nil, nil when the feed
// does not exist.
func (s *Store) FeedByID(ctx context.Context, id int64) (*Feed, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch feed %d: %w", id, err)
	}
	return feed, nil
}

// FeedBySource fetches a feed by its source URL. Returns nil, nil when no
// subscription matches.
func (s *Store) FeedBySource(ctx context.Context, source string) (*Feed, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+feedColumns+` FROM feeds WHERE source = ?`, strings.TrimSpace(source))
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch feed by source: %w", err)
	}
	return feed, nil
}

// Feeds returns every subscription ordered by id.
func (s *Store) Feeds(ctx context.Context) ([]*Feed, error) {
	return s.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id`)
}

// EnabledFeeds returns subscriptions eligible for automatic updates.
func (s *Store) EnabledFeeds(ctx context.Context) ([]*Feed, error) {
	return s.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds WHERE enabled = 1 ORDER BY id`)
}

func (s *Store) queryFeeds(ctx context.Context, query string, args ...any) ([]*Feed, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []*Feed
	for rows.Next() {
		feed, scanErr := scanFeed(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan feed: %w", scanErr)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return feeds, nil
}

// UpsertFeedMetadata stores channel-level metadata from a successful fetch
// and clears any previous error. It never touches enabled, group, or title
// override; those belong to the user.
func (s *Store) UpsertFeedMetadata(ctx context.Context, id int64, meta FeedMetadata) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE feeds SET title = ?, description = ?, link = ?, author = ?, copyright = ?, error_code = NULL WHERE id = ?`,
		strings.TrimSpace(meta.Title),
		strings.TrimSpace(meta.Description),
		strings.TrimSpace(meta.Link),
		strings.TrimSpace(meta.Author),
		strings.TrimSpace(meta.Copyright),
		id,
	)
	if err != nil {
		return fmt.Errorf("update feed metadata %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetFeedStatus records whether the feed currently has an update in flight.
func (s *Store) SetFeedStatus(ctx context.Context, id int64, status FeedStatus) error {
	res, err := s.execWithRetry(ctx, `UPDATE feeds SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update feed status %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetFeedError records a failed update: status returns to idle and the
// error code is persisted for display.
func (s *Store) SetFeedError(ctx context.Context, id int64, code string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE feeds SET status = ?, error_code = ? WHERE id = ?`,
		string(FeedIdle), nullableString(code), id,
	)
	if err != nil {
		return fmt.Errorf("update feed error %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetFeedEnabled toggles whether the feed participates in updates.
func (s *Store) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.execWithRetry(ctx, `UPDATE feeds SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update feed enabled %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetFeedTitleOverride sets the user-chosen display title. An empty title
// clears the override so the fetched title shows again.
func (s *Store) SetFeedTitleOverride(ctx context.Context, id int64, title string) error {
	res, err := s.execWithRetry(ctx, `UPDATE feeds SET title_override = ? WHERE id = ?`, strings.TrimSpace(title), id)
	if err != nil {
		return fmt.Errorf("update feed title override %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetFeedGroup assigns the feed to a group. The group must exist; the
// foreign key rejects dangling assignments.
func (s *Store) SetFeedGroup(ctx context.Context, id int64, groupID int64) error {
	res, err := s.execWithRetry(ctx, `UPDATE feeds SET group_id = ? WHERE id = ?`, groupID, id)
	if err != nil {
		return fmt.Errorf("update feed group %d: %w", id, err)
	}
	return requireRow(res, id)
}

// ClearFeedGroup removes the feed from its group.
func (s *Store) ClearFeedGroup(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(ctx, `UPDATE feeds SET group_id = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear feed group %d: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteFeed removes the subscription and, through the cascade, every one
// of its episodes. Returns false when the feed did not exist.
func (s *Store) DeleteFeed(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete feed %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func requireRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("feed %d not found", id)
	}
	return nil
}
