package store

import (
	"database/sql"
	"time"
)

const feedColumns = "id, title, description, link, author, copyright, source, enabled, status, error_code, group_id, title_override, added_at"

const episodeColumns = "id, feed_id, guid, title, description, link, duration_seconds, published_at, episode_number, media_url, status, position_seconds, error_code, hidden"

type rowScanner interface{ Scan(dest ...any) error }

func scanFeed(scanner rowScanner) (*Feed, error) {
	var (
		feed      Feed
		statusStr string
		errCode   sql.NullString
		groupID   sql.NullInt64
		addedRaw  string
		enabled   int64
	)
	if err := scanner.Scan(
		&feed.ID,
		&feed.Title,
		&feed.Description,
		&feed.Link,
		&feed.Author,
		&feed.Copyright,
		&feed.Source,
		&enabled,
		&statusStr,
		&errCode,
		&groupID,
		&feed.TitleOverride,
		&addedRaw,
	); err != nil {
		return nil, err
	}
	feed.Enabled = enabled != 0
	feed.Status = FeedStatus(statusStr)
	if errCode.Valid {
		feed.ErrorCode = errCode.String
	}
	if groupID.Valid {
		id := groupID.Int64
		feed.GroupID = &id
	}
	feed.AddedAt = parseTimestamp(addedRaw)
	return &feed, nil
}

func scanEpisode(scanner rowScanner) (*Episode, error) {
	var (
		ep            Episode
		durationSec   int64
		publishedRaw  sql.NullString
		episodeNumber sql.NullInt64
		statusStr     string
		positionSec   int64
		errCode       sql.NullString
		hidden        int64
	)
	if err := scanner.Scan(
		&ep.ID,
		&ep.FeedID,
		&ep.GUID,
		&ep.Title,
		&ep.Description,
		&ep.Link,
		&durationSec,
		&publishedRaw,
		&episodeNumber,
		&ep.MediaURL,
		&statusStr,
		&positionSec,
		&errCode,
		&hidden,
	); err != nil {
		return nil, err
	}
	ep.Duration = time.Duration(durationSec) * time.Second
	if publishedRaw.Valid {
		ep.Published = parseTimestamp(publishedRaw.String)
	}
	if episodeNumber.Valid {
		n := episodeNumber.Int64
		ep.EpisodeNumber = &n
	}
	ep.Status = EpisodeStatus(statusStr)
	ep.Position = time.Duration(positionSec) * time.Second
	if errCode.Valid {
		ep.ErrorCode = errCode.String
	}
	ep.Hidden = hidden != 0
	return &ep, nil
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC()
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(ts time.Time) any {
	if ts.IsZero() {
		return nil
	}
	return formatTimestamp(ts)
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
