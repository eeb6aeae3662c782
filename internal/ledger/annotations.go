package ledger

import (
	"context"
	"fmt"
	"time"
)

// SetFavorite marks or unmarks a video as a favorite.
func (s *Store) SetFavorite(ctx context.Context, videoID string, favorite bool) error {
	if favorite {
		if err := s.execWithoutResultRetry(
			ctx,
			`INSERT INTO video_favorites (video_id, created_at) VALUES (?, ?)
             ON CONFLICT(video_id) DO NOTHING`,
			videoID, timestamp(time.Now()),
		); err != nil {
			return fmt.Errorf("set favorite: %w", err)
		}
		return nil
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`DELETE FROM video_favorites WHERE video_id = ?`,
		videoID,
	); err != nil {
		return fmt.Errorf("clear favorite: %w", err)
	}
	return nil
}

// SetNote stores free-form text on a video. An empty note deletes the row.
func (s *Store) SetNote(ctx context.Context, videoID, note string) error {
	if note == "" {
		if err := s.execWithoutResultRetry(
			ctx,
			`DELETE FROM video_notes WHERE video_id = ?`,
			videoID,
		); err != nil {
			return fmt.Errorf("clear note: %w", err)
		}
		return nil
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO video_notes (video_id, note, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(video_id) DO UPDATE SET
             note = excluded.note,
             updated_at = excluded.updated_at`,
		videoID, note, timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("set note: %w", err)
	}
	return nil
}

// AddBookmark records a subtitle position bookmark for a video.
func (s *Store) AddBookmark(ctx context.Context, videoID, language string, positionMS int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO subtitle_bookmarks (video_id, language, position_ms, created_at)
         VALUES (?, ?, ?, ?)`,
		videoID, language, positionMS, timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("add bookmark: %w", err)
	}
	return nil
}

// FavoriteIDs lists favorited video IDs.
func (s *Store) FavoriteIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT video_id FROM video_favorites ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
