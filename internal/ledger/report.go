package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// SourceStats aggregates catalog and retry counts for one source.
type SourceStats struct {
	SourceID      string
	Platform      string
	Videos        int
	WithSubtitles int
	WithMetadata  int
	PendingRetry  int
	LastSyncedAt  string
}

// SourceStatsAll returns aggregate counts per source, ordered by source ID.
func (s *Store) SourceStatsAll(ctx context.Context) ([]SourceStats, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT
            src.id,
            src.platform,
            COALESCE(src.last_synced_at, ''),
            (SELECT COUNT(1) FROM videos v WHERE v.source_id = src.id),
            (SELECT COUNT(DISTINCT sub.video_id) FROM subtitles sub
                JOIN videos v ON v.video_id = sub.video_id
                WHERE v.source_id = src.id),
            (SELECT COUNT(1) FROM videos v WHERE v.source_id = src.id AND v.meta_path != ''),
            (SELECT COUNT(1) FROM download_state ds
                WHERE ds.source_id = src.id AND ds.retry_count > 0)
         FROM sources src
         ORDER BY src.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query source stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var st SourceStats
		if err := rows.Scan(
			&st.SourceID, &st.Platform, &st.LastSyncedAt,
			&st.Videos, &st.WithSubtitles, &st.WithMetadata, &st.PendingRetry,
		); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// SubtitleCount returns the number of subtitle rows a video carries.
func (s *Store) SubtitleCount(ctx context.Context, videoID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM subtitles WHERE video_id = ?`,
		videoID,
	).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count subtitles: %w", err)
	}
	return count, nil
}
