package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Default retry backoff parameters, overridable through configuration.
const (
	DefaultBackoffBase = 5 * time.Minute
	DefaultBackoffCap  = 24 * time.Hour
)

// Backoff returns how long an item must wait after its most recent failure:
// base doubled per additional failure, capped. A count of zero or less means
// the item has never failed and is due immediately.
func Backoff(retryCount int, base, cap time.Duration) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

// RecordFailure inserts or increments the retry record for an item,
// remembering the URL that was attempted and the run that attempted it.
func (s *Store) RecordFailure(ctx context.Context, sourceID string, stage Stage, videoID, url, runID, lastError string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO download_state (source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at)
         VALUES (?, ?, ?, 1, ?, ?, ?, ?)
         ON CONFLICT(source_id, stage, video_id) DO UPDATE SET
             retry_count = retry_count + 1,
             last_error = excluded.last_error,
             url = excluded.url,
             last_run_id = excluded.last_run_id,
             updated_at = excluded.updated_at`,
		sourceID,
		string(stage),
		videoID,
		lastError,
		url,
		runID,
		timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// RecordSuccess resets the retry count for an item. A row is kept so the
// history of a flaky item survives until the item leaves the catalog.
func (s *Store) RecordSuccess(ctx context.Context, sourceID string, stage Stage, videoID, url, runID string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO download_state (source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at)
         VALUES (?, ?, ?, 0, '', ?, ?, ?)
         ON CONFLICT(source_id, stage, video_id) DO UPDATE SET
             retry_count = 0,
             last_error = '',
             url = excluded.url,
             last_run_id = excluded.last_run_id,
             updated_at = excluded.updated_at`,
		sourceID,
		string(stage),
		videoID,
		url,
		runID,
		timestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RetryStateFor returns the retry record for one item, or nil when the item
// has never been tracked.
func (s *Store) RetryStateFor(ctx context.Context, sourceID string, stage Stage, videoID string) (*RetryState, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at
         FROM download_state WHERE source_id = ? AND stage = ? AND video_id = ?`,
		sourceID, string(stage), videoID,
	)
	state, err := scanRetryState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retry state: %w", err)
	}
	return state, nil
}

// SplitRetryable partitions candidate IDs into those due for an attempt now
// and those still inside their backoff window. Every candidate lands in
// exactly one of the two slices, preserving input order. Items without a
// failure record are always due.
func (s *Store) SplitRetryable(ctx context.Context, sourceID string, stage Stage, candidates []string, now time.Time, base, cap time.Duration) (due, deferred []string, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}
	states := make(map[string]*RetryState, len(candidates))
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at
         FROM download_state WHERE source_id = ? AND stage = ? AND retry_count > 0`,
		sourceID, string(stage),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query retry states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		state, scanErr := scanRetryState(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		states[state.VideoID] = state
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, id := range candidates {
		state, ok := states[id]
		if !ok {
			due = append(due, id)
			continue
		}
		if now.Before(state.UpdatedAt.Add(Backoff(state.RetryCount, base, cap))) {
			deferred = append(deferred, id)
		} else {
			due = append(due, id)
		}
	}
	return due, deferred, nil
}

// DueRetryIDs returns failed items whose backoff has elapsed, oldest failure
// first, capped at limit.
func (s *Store) DueRetryIDs(ctx context.Context, sourceID string, stage Stage, now time.Time, base, cap time.Duration, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at
         FROM download_state
         WHERE source_id = ? AND stage = ? AND retry_count > 0
         ORDER BY updated_at ASC`,
		sourceID, string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var due []string
	for rows.Next() {
		state, scanErr := scanRetryState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		if now.Before(state.UpdatedAt.Add(Backoff(state.RetryCount, base, cap))) {
			continue
		}
		due = append(due, state.VideoID)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, rows.Err()
}

// PendingRetries lists every item still carrying failures, oldest first.
func (s *Store) PendingRetries(ctx context.Context, sourceID string) ([]*RetryState, error) {
	query := `SELECT source_id, stage, video_id, retry_count, last_error, url, last_run_id, updated_at
              FROM download_state WHERE retry_count > 0`
	args := []any{}
	if sourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending retries: %w", err)
	}
	defer rows.Close()

	var states []*RetryState
	for rows.Next() {
		state, scanErr := scanRetryState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// PruneRetryState drops retry rows for items the source's catalog no longer
// knows. Records of items still in the catalog survive, success history
// included, so a flaky item's past stays visible.
func (s *Store) PruneRetryState(ctx context.Context, sourceID string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM download_state
         WHERE source_id = ?
           AND video_id NOT IN (SELECT video_id FROM videos WHERE source_id = ?)`,
		sourceID, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("prune retry state: %w", err)
	}
	return res.RowsAffected()
}

func scanRetryState(row rowScanner) (*RetryState, error) {
	var (
		state     RetryState
		stage     string
		updatedAt string
	)
	if err := row.Scan(&state.SourceID, &stage, &state.VideoID, &state.RetryCount, &state.LastError, &state.URL, &state.LastRunID, &updatedAt); err != nil {
		return nil, err
	}
	state.Stage = Stage(stage)
	state.UpdatedAt = parseTimestamp(updatedAt)
	return &state, nil
}
