package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertSource records or refreshes a source row.
func (s *Store) UpsertSource(ctx context.Context, id, platform, url, handle string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO sources (id, platform, url, handle)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             platform = excluded.platform,
             url = excluded.url,
             handle = excluded.handle`,
		id, platform, url, handle,
	); err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}

// TouchSourceSynced stamps the source's last successful sync time.
func (s *Store) TouchSourceSynced(ctx context.Context, id string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE sources SET last_synced_at = ? WHERE id = ?`,
		timestamp(time.Now()),
		id,
	); err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return nil
}

// UpsertCatalogItem writes one video row and replaces its subtitle rows in a
// single transaction. The original created_at survives updates.
func (s *Store) UpsertCatalogItem(ctx context.Context, item CatalogItem) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin catalog tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := timestamp(time.Now())
		v := item.Video
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO videos (
                video_id, source_id, title, upload_date, duration, view_count,
                like_count, description, video_url, media_path, media_size,
                meta_path, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(source_id, video_id) DO UPDATE SET
                title = excluded.title,
                upload_date = excluded.upload_date,
                duration = excluded.duration,
                view_count = excluded.view_count,
                like_count = excluded.like_count,
                description = excluded.description,
                video_url = excluded.video_url,
                media_path = excluded.media_path,
                media_size = excluded.media_size,
                meta_path = excluded.meta_path,
                updated_at = excluded.updated_at`,
			v.VideoID, v.SourceID, v.Title, v.UploadDate, v.Duration, v.ViewCount,
			v.LikeCount, v.Description, v.VideoURL, v.MediaPath, v.MediaSize,
			v.MetaPath, now, now,
		); err != nil {
			return fmt.Errorf("upsert video %s: %w", v.VideoID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM subtitles WHERE video_id = ?`, v.VideoID); err != nil {
			return fmt.Errorf("clear subtitles %s: %w", v.VideoID, err)
		}
		for _, sub := range item.Subtitles {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO subtitles (video_id, language, ext, path, size, mtime)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				v.VideoID, sub.Language, sub.Ext, sub.Path, sub.Size, sub.MTime,
			); err != nil {
				return fmt.Errorf("insert subtitle %s/%s: %w", v.VideoID, sub.Language, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit catalog item: %w", err)
		}
		return nil
	})
}

// GetVideo fetches a catalog row by ID.
func (s *Store) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+videoColumns+` FROM videos WHERE video_id = ?`,
		videoID,
	)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return video, nil
}

// VideosForSource returns all catalog rows of a source ordered by upload date
// then ID, so listings are stable.
func (s *Store) VideosForSource(ctx context.Context, sourceID string) ([]*Video, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+videoColumns+` FROM videos WHERE source_id = ? ORDER BY upload_date, video_id`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

// CatalogVideoIDs returns the set of video IDs a source has in the catalog.
func (s *Store) CatalogVideoIDs(ctx context.Context, sourceID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT video_id FROM videos WHERE source_id = ?`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query catalog ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// SubtitleStates returns the recorded subtitle rows of a source keyed by
// video ID, for comparison against the on-disk files.
func (s *Store) SubtitleStates(ctx context.Context, sourceID string) (map[string][]SubtitleRow, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT s.video_id, s.language, s.ext, s.path, s.size, s.mtime
         FROM subtitles s JOIN videos v ON v.video_id = s.video_id
         WHERE v.source_id = ?`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subtitle states: %w", err)
	}
	defer rows.Close()

	states := make(map[string][]SubtitleRow)
	for rows.Next() {
		var sub SubtitleRow
		if err := rows.Scan(&sub.VideoID, &sub.Language, &sub.Ext, &sub.Path, &sub.Size, &sub.MTime); err != nil {
			return nil, err
		}
		states[sub.VideoID] = append(states[sub.VideoID], sub)
	}
	return states, rows.Err()
}

// MissingSubtitleVideoIDs returns catalog videos that have a media file but
// no subtitle rows, oldest upload first, capped at limit. Items parked in a
// failure state stay out so the bootstrap set does not churn on known-bad
// IDs. Used to bootstrap subtitle fetches for items that predate subtitle
// tracking.
func (s *Store) MissingSubtitleVideoIDs(ctx context.Context, sourceID string, limit int) ([]string, error) {
	query := `SELECT v.video_id FROM videos v
              LEFT JOIN subtitles s ON s.video_id = v.video_id
              WHERE v.source_id = ? AND s.video_id IS NULL
                AND v.media_path != ''
                AND NOT EXISTS (
                    SELECT 1 FROM download_state d
                    WHERE d.source_id = v.source_id AND d.stage = ?
                      AND d.video_id = v.video_id AND d.retry_count > 0)
              ORDER BY v.upload_date, v.video_id`
	args := []any{sourceID, string(StageSubtitles)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missing subtitles: %w", err)
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

// MissingMetaVideoIDs returns catalog videos with no metadata sidecar path.
func (s *Store) MissingMetaVideoIDs(ctx context.Context, sourceID string, limit int) ([]string, error) {
	query := `SELECT video_id FROM videos
              WHERE source_id = ? AND meta_path = ''
              ORDER BY upload_date, video_id`
	args := []any{sourceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query missing meta: %w", err)
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

// SetLoudness records an audio loudness measurement for a video.
func (s *Store) SetLoudness(ctx context.Context, sourceID, videoID string, lufs, gainDB float64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE videos
         SET audio_lufs = ?, audio_gain_db = ?, audio_loudness_analyzed_at = ?,
             audio_loudness_error = NULL, updated_at = ?
         WHERE source_id = ? AND video_id = ?`,
		lufs, gainDB, timestamp(time.Now()), timestamp(time.Now()), sourceID, videoID,
	); err != nil {
		return fmt.Errorf("set loudness: %w", err)
	}
	return nil
}

// ClearLoudness drops the cached loudness measurement. Called after a media
// file is replaced so stale analysis does not describe the new file.
func (s *Store) ClearLoudness(ctx context.Context, sourceID, videoID string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE videos
         SET audio_lufs = NULL, audio_gain_db = NULL,
             audio_loudness_analyzed_at = NULL, audio_loudness_error = NULL,
             updated_at = ?
         WHERE source_id = ? AND video_id = ?`,
		timestamp(time.Now()), sourceID, videoID,
	); err != nil {
		return fmt.Errorf("clear loudness: %w", err)
	}
	return nil
}

// NoAudioBootstrapIDs returns videos whose last loudness analysis found no
// measurable signal: analyzed cleanly, yet no LUFS reading and no gain. They
// get re-fed to the media stage so a silent or truncated download is
// replaced. Items parked in a media failure state stay out. Most recently
// analyzed first, capped at limit.
func (s *Store) NoAudioBootstrapIDs(ctx context.Context, sourceID string, limit int) ([]string, error) {
	query := `SELECT v.video_id FROM videos v
              WHERE v.source_id = ?
                AND v.media_path != ''
                AND v.audio_lufs IS NULL
                AND ABS(COALESCE(v.audio_gain_db, 0)) < 0.000001
                AND COALESCE(v.audio_loudness_analyzed_at, '') != ''
                AND COALESCE(v.audio_loudness_error, '') = ''
                AND NOT EXISTS (
                    SELECT 1 FROM download_state d
                    WHERE d.source_id = v.source_id AND d.stage = ?
                      AND d.video_id = v.video_id AND d.retry_count > 0)
              ORDER BY v.audio_loudness_analyzed_at DESC, v.video_id DESC`
	args := []any{sourceID, string(StageMedia)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query no-audio bootstrap: %w", err)
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

// PruneMissing deletes catalog rows of a source whose ID is not in keep,
// then sweeps subtitles, favorites, notes, and bookmarks that no longer
// point at any video. Returns the number of videos removed.
func (s *Store) PruneMissing(ctx context.Context, sourceID string, keep map[string]struct{}) (int64, error) {
	existing, err := s.CatalogVideoIDs(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for id := range existing {
		if _, ok := keep[id]; !ok {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	var removed int64
	const chunkSize = 500
	for start := 0; start < len(doomed); start += chunkSize {
		end := start + chunkSize
		if end > len(doomed) {
			end = len(doomed)
		}
		chunk := doomed[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, sourceID)
		for _, id := range chunk {
			args = append(args, id)
		}
		res, err := s.execWithRetry(
			ctx,
			`DELETE FROM videos WHERE source_id = ? AND video_id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return removed, fmt.Errorf("prune videos: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := s.pruneOrphanedDependents(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Store) pruneOrphanedDependents(ctx context.Context) error {
	for _, table := range []string{"subtitles", "video_favorites", "video_notes", "subtitle_bookmarks"} {
		if err := s.execWithoutResultRetry(
			ctx,
			`DELETE FROM `+table+` WHERE video_id NOT IN (SELECT video_id FROM videos)`,
		); err != nil {
			return fmt.Errorf("prune orphaned %s: %w", table, err)
		}
	}
	return nil
}

const videoColumns = `video_id, source_id, title, upload_date, duration, view_count,
    like_count, description, video_url, media_path, media_size, meta_path,
    created_at, updated_at`

func scanVideo(row rowScanner) (*Video, error) {
	var (
		video     Video
		duration  sql.NullFloat64
		viewCount sql.NullInt64
		likeCount sql.NullInt64
		createdAt string
		updatedAt string
	)
	if err := row.Scan(
		&video.VideoID, &video.SourceID, &video.Title, &video.UploadDate,
		&duration, &viewCount, &likeCount, &video.Description, &video.VideoURL,
		&video.MediaPath, &video.MediaSize, &video.MetaPath, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if duration.Valid {
		video.Duration = &duration.Float64
	}
	if viewCount.Valid {
		video.ViewCount = &viewCount.Int64
	}
	if likeCount.Valid {
		video.LikeCount = &likeCount.Int64
	}
	video.CreatedAt = parseTimestamp(createdAt)
	video.UpdatedAt = parseTimestamp(updatedAt)
	return &video, nil
}
