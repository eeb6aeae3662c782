package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{
	"video_id", "source_id", "title", "upload_date", "duration",
	"view_count", "like_count", "video_url", "media_path", "subtitle_count",
}

// ExportCSV writes a flat catalog snapshot. The CSV mirrors the videos table
// joined with the subtitle count so spreadsheet tools can consume the ledger
// without touching SQLite.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT v.video_id, v.source_id, v.title, v.upload_date,
                COALESCE(v.duration, 0), COALESCE(v.view_count, 0),
                COALESCE(v.like_count, 0), v.video_url, v.media_path,
                (SELECT COUNT(1) FROM subtitles s WHERE s.video_id = v.video_id)
         FROM videos v ORDER BY v.source_id, v.upload_date, v.video_id`,
	)
	if err != nil {
		return fmt.Errorf("query export rows: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for rows.Next() {
		var (
			videoID, sourceID, title, uploadDate, videoURL, mediaPath string
			duration                                                  float64
			viewCount, likeCount                                      int64
			subtitleCount                                             int
		)
		if err := rows.Scan(
			&videoID, &sourceID, &title, &uploadDate, &duration,
			&viewCount, &likeCount, &videoURL, &mediaPath, &subtitleCount,
		); err != nil {
			return fmt.Errorf("scan export row: %w", err)
		}
		record := []string{
			videoID, sourceID, title, uploadDate,
			strconv.FormatFloat(duration, 'f', -1, 64),
			strconv.FormatInt(viewCount, 10),
			strconv.FormatInt(likeCount, 10),
			videoURL, mediaPath,
			strconv.Itoa(subtitleCount),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// ExportCSVFile writes the catalog snapshot to path via a temp file rename so
// readers never observe a half-written export.
func (s *Store) ExportCSVFile(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-export-*")
	if err != nil {
		return fmt.Errorf("create export temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := s.ExportCSV(ctx, tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace export file: %w", err)
	}
	return nil
}
