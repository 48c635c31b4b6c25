package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MergeEpisodes reconciles a fetched episode list with the stored one
// inside a single transaction. New GUIDs are inserted with status "new";
// existing rows get their metadata refreshed while status, position,
// error, and hidden are left untouched. Episodes absent from the fetched
// document stay in the library. Returns how many episodes were inserted.
func (s *Store) MergeEpisodes(ctx context.Context, feedID int64, metas []EpisodeMetadata) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for _, meta := range metas {
			guid := strings.TrimSpace(meta.GUID)
			if guid == "" || strings.TrimSpace(meta.MediaURL) == "" {
				continue
			}

			var existingID int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM episodes WHERE feed_id = ? AND guid = ?`,
				feedID, guid,
			).Scan(&existingID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO episodes (
                        feed_id, guid, title, description, link,
                        duration_seconds, published_at, episode_number, media_url
                    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					feedID,
					guid,
					strings.TrimSpace(meta.Title),
					meta.Description,
					strings.TrimSpace(meta.Link),
					int64(meta.Duration/time.Second),
					nullableTime(meta.Published),
					nullableInt(meta.EpisodeNumber),
					strings.TrimSpace(meta.MediaURL),
				); err != nil {
					return fmt.Errorf("insert episode %q: %w", guid, err)
				}
				inserted++
			case err != nil:
				return fmt.Errorf("lookup episode %q: %w", guid, err)
			default:
				if _, err := tx.ExecContext(ctx,
					`UPDATE episodes SET title = ?, description = ?, link = ?,
                        duration_seconds = ?, published_at = ?, episode_number = ?, media_url = ?
                    WHERE id = ?`,
					strings.TrimSpace(meta.Title),
					meta.Description,
					strings.TrimSpace(meta.Link),
					int64(meta.Duration/time.Second),
					nullableTime(meta.Published),
					nullableInt(meta.EpisodeNumber),
					strings.TrimSpace(meta.MediaURL),
					existingID,
				); err != nil {
					return fmt.Errorf("update episode %q: %w", guid, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// EpisodeByID fetches an episode by identifier. Returns nil, nil when the
// episode does not exist.
func (s *Store) EpisodeByID(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch episode %d: %w", id, err)
	}
	return ep, nil
}

// EpisodesByFeed returns the feed's episodes, newest published first with
// insertion order breaking ties. Hidden episodes are skipped unless
// includeHidden is set.
func (s *Store) EpisodesByFeed(ctx context.Context, feedID int64, includeHidden bool) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE feed_id = ?`
	if !includeHidden {
		query += ` AND hidden = 0`
	}
	query += ` ORDER BY published_at DESC, id DESC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, feedID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []*Episode
	for rows.Next() {
		ep, scanErr := scanEpisode(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan episode: %w", scanErr)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}

// NewEpisodeCounts reports, per feed, how many visible episodes are still
// in status "new". Feeds with no new episodes are absent from the map.
func (s *Store) NewEpisodeCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT feed_id, COUNT(1) FROM episodes WHERE status = ? AND hidden = 0 GROUP BY feed_id`,
		string(EpisodeNew),
	)
	if err != nil {
		return nil, fmt.Errorf("query new episode counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[int64]int)
	for rows.Next() {
		var feedID int64
		var count int
		if err := rows.Scan(&feedID, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[feedID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// UpdateEpisodeStatus sets the lifecycle status and clears any stored
// error code when leaving the error status.
func (s *Store) UpdateEpisodeStatus(ctx context.Context, id int64, status EpisodeStatus) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET status = ?, error_code = CASE WHEN ? = 'error' THEN error_code ELSE NULL END WHERE id = ?`,
		string(status), string(status), id,
	)
	if err != nil {
		return fmt.Errorf("update episode status %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

// UpdateEpisodePosition checkpoints the playback position. Positions are
// stored at second granularity.
func (s *Store) UpdateEpisodePosition(ctx context.Context, id int64, position time.Duration) error {
	if position < 0 {
		position = 0
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET position_seconds = ? WHERE id = ?`,
		int64(position/time.Second), id,
	)
	if err != nil {
		return fmt.Errorf("update episode position %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

// MarkEpisodeStarted enters the started status and records the position in
// one statement, used when playback begins or resumes.
func (s *Store) MarkEpisodeStarted(ctx context.Context, id int64, position time.Duration) error {
	if position < 0 {
		position = 0
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET status = ?, position_seconds = ?, error_code = NULL WHERE id = ?`,
		string(EpisodeStarted), int64(position/time.Second), id,
	)
	if err != nil {
		return fmt.Errorf("mark episode started %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

// MarkEpisodeFinished enters the finished status and rewinds the stored
// position so a replay starts from the beginning.
func (s *Store) MarkEpisodeFinished(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET status = ?, position_seconds = 0, error_code = NULL WHERE id = ?`,
		string(EpisodeFinished), id,
	)
	if err != nil {
		return fmt.Errorf("mark episode finished %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

// SetEpisodeError records a playback failure. The position survives so a
// retry can resume where the failure happened.
func (s *Store) SetEpisodeError(ctx context.Context, id int64, code string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET status = ?, error_code = ? WHERE id = ?`,
		string(EpisodeError), nullableString(code), id,
	)
	if err != nil {
		return fmt.Errorf("set episode error %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

// SetEpisodeHidden toggles visibility in episode listings. Hidden episodes
// keep their row and state; merges will not resurrect them.
func (s *Store) SetEpisodeHidden(ctx context.Context, id int64, hidden bool) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE episodes SET hidden = ? WHERE id = ?`,
		boolToInt(hidden), id,
	)
	if err != nil {
		return fmt.Errorf("set episode hidden %d: %w", id, err)
	}
	return requireEpisodeRow(res, id)
}

func requireEpisodeRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("episode %d not found", id)
	}
	return nil
}
