package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecoverInterrupted closes out any run left open by a crashed or killed
// process. Finished timestamps and exit codes that somehow exist are kept;
// an existing error message is never overwritten. Returns the number of
// runs recovered.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE download_runs
         SET finished_at = COALESCE(finished_at, ?),
             exit_code = COALESCE(exit_code, ?),
             error_message = CASE
                 WHEN error_message IS NULL OR error_message = '' THEN ?
                 ELSE error_message
             END
         WHERE finished_at IS NULL`,
		now,
		interruptedExitCode,
		InterruptedMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// BeginRun records the start of a downloader invocation and returns the run
// ID. Command may be empty for runs that never launch the downloader, such
// as a sync with zero targets.
func (s *Store) BeginRun(ctx context.Context, sourceID string, stage Stage, command string, requested int) (string, error) {
	runID := uuid.NewString()
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO download_runs (id, source_id, stage, command, started_at, items_requested)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID,
		sourceID,
		string(stage),
		nullableString(command),
		timestamp(time.Now()),
		requested,
	); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return runID, nil
}

// SetRunCommand records the exact command line once the downloader has been
// launched. The run row itself is created first so crash recovery can see it.
func (s *Store) SetRunCommand(ctx context.Context, runID, command string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_runs SET command = ? WHERE id = ?`,
		nullableString(command),
		runID,
	); err != nil {
		return fmt.Errorf("set run command: %w", err)
	}
	return nil
}

// FinishRun closes a run with its outcome.
func (s *Store) FinishRun(ctx context.Context, runID string, exitCode int, errorMessage string, succeeded, failed int) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE download_runs
         SET finished_at = ?, exit_code = ?, error_message = ?,
             items_succeeded = ?, items_failed = ?
         WHERE id = ?`,
		timestamp(time.Now()),
		exitCode,
		nullableString(errorMessage),
		succeeded,
		failed,
		runID,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, source_id, stage, command, started_at, finished_at, exit_code,
                error_message, items_requested, items_succeeded, items_failed
         FROM download_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RecentRuns lists the most recently started runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, source_id, stage, command, started_at, finished_at, exit_code,
                error_message, items_requested, items_succeeded, items_failed
         FROM download_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run          Run
		stage        string
		command      sql.NullString
		startedAt    string
		finishedAt   sql.NullString
		exitCode     sql.NullInt64
		errorMessage sql.NullString
	)
	if err := row.Scan(
		&run.ID, &run.SourceID, &stage, &command, &startedAt, &finishedAt,
		&exitCode, &errorMessage, &run.ItemsRequested, &run.ItemsSucceeded, &run.ItemsFailed,
	); err != nil {
		return nil, err
	}
	run.Stage = Stage(stage)
	run.Command = command.String
	run.ErrorMessage = errorMessage.String
	run.StartedAt = parseTimestamp(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTimestamp(finishedAt.String)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	return &run, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
