package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BackfillProgress describes one processed window: where the cursor should
// resume, whether history is exhausted, and what the window covered.
type BackfillProgress struct {
	NextStart   int
	Completed   bool
	WindowStart int
	WindowEnd   int
	SeenCount   int
}

// EnsureBackfillCursor creates the cursor for a source if it does not exist
// yet. An existing cursor is left untouched, whatever its position.
func (s *Store) EnsureBackfillCursor(ctx context.Context, sourceID string, start, windowSize int) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO backfill_state (source_id, next_start, completed, window_size, updated_at)
         VALUES (?, ?, 0, ?, ?)
         ON CONFLICT(source_id) DO UPDATE SET window_size = excluded.window_size`,
		sourceID,
		start,
		windowSize,
		timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("ensure backfill cursor: %w", err)
	}
	return nil
}

// GetBackfillCursor returns the cursor for a source, or nil when none exists.
func (s *Store) GetBackfillCursor(ctx context.Context, sourceID string) (*BackfillCursor, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT source_id, next_start, completed, window_size,
                last_window_start, last_window_end, last_seen_count,
                completed_at, updated_at
         FROM backfill_state WHERE source_id = ?`,
		sourceID,
	)
	var (
		cursor      BackfillCursor
		completed   int
		completedAt sql.NullString
		updatedAt   string
	)
	err := row.Scan(&cursor.SourceID, &cursor.NextStart, &completed, &cursor.WindowSize,
		&cursor.LastWindowStart, &cursor.LastWindowEnd, &cursor.LastSeenCount,
		&completedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backfill cursor: %w", err)
	}
	cursor.Completed = completed != 0
	if completedAt.Valid {
		cursor.CompletedAt = parseTimestamp(completedAt.String)
	}
	cursor.UpdatedAt = parseTimestamp(updatedAt)
	return &cursor, nil
}

// UpdateBackfillCursor moves the cursor and records the window it just
// covered. Callers advance it only after a window has been fully processed,
// so a failure mid-window leaves the cursor where the next invocation should
// resume.
func (s *Store) UpdateBackfillCursor(ctx context.Context, sourceID string, progress BackfillProgress) error {
	completedInt := 0
	var completedAt any
	if progress.Completed {
		completedInt = 1
		completedAt = timestamp(time.Now())
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE backfill_state
         SET next_start = ?, completed = ?,
             last_window_start = ?, last_window_end = ?, last_seen_count = ?,
             completed_at = ?, updated_at = ?
         WHERE source_id = ?`,
		progress.NextStart,
		completedInt,
		progress.WindowStart,
		progress.WindowEnd,
		progress.SeenCount,
		completedAt,
		timestamp(time.Now()),
		sourceID,
	); err != nil {
		return fmt.Errorf("update backfill cursor: %w", err)
	}
	return nil
}

// ResetBackfillCursor deletes the cursor so the next backfill starts fresh.
func (s *Store) ResetBackfillCursor(ctx context.Context, sourceID string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`DELETE FROM backfill_state WHERE source_id = ?`,
		sourceID,
	); err != nil {
		return fmt.Errorf("reset backfill cursor: %w", err)
	}
	return nil
}
