package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Create inserts a new job. A missing ID is generated; a missing status defaults to pending.
func (s *Store) Create(ctx context.Context, job *Job) (*Job, error) {
	if job == nil {
		return nil, errors.New("create job: nil job")
	}
	record := *job
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusPending
	}
	if record.Mode == "" {
		record.Mode = ModeInProcess
	}
	if record.Total < 0 {
		return nil, fmt.Errorf("create job: total must not be negative")
	}

	timestamp := nowString()
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, name, status, mode, source_root, recursive, concurrency, max_retries,
            total, export_dir, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Name,
		record.Status,
		record.Mode,
		record.SourceRoot,
		boolToInt(record.Recursive),
		record.Concurrency,
		record.MaxRetries,
		record.Total,
		nullableString(record.ExportDir),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, record.ID)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job to status when the state machine allows it.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, extra Extra) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read job status: %w", err)
		}
		from := Status(current)
		if from != status && !CanTransition(from, status) {
			return InvalidTransition(id, from, status)
		}
		_, err = updateStatusTx(ctx, tx, id, from, status, extra)
		return err
	})
}

// TransitionStatus performs a compare-and-set status change. It reports false
// when the job was no longer in status from.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to Status, extra Extra) (bool, error) {
	if from != to && !CanTransition(from, to) {
		return false, InvalidTransition(id, from, to)
	}
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		applied, err = updateStatusTx(ctx, tx, id, from, to, extra)
		return err
	})
	return applied, err
}

func updateStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to Status, extra Extra) (bool, error) {
	now := nowString()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, export_dir = COALESCE(?, export_dir),
            completed_at = CASE WHEN ? THEN ? ELSE NULL END, updated_at = ?
         WHERE id = ? AND status = ?`,
		to, nullableString(extra.Message), nullableString(extra.ExportDir),
		boolToInt(to.IsTerminal()), now, now, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateProgress persists the counters reported after each settled item.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress Progress) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET processed = ?, succeeded = ?, failed = ?, current_item = ?, updated_at = ? WHERE id = ?`,
		progress.Processed,
		progress.Succeeded,
		progress.Failed,
		nullableString(progress.CurrentItem),
		nowString(),
		id,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ResetInterrupted pauses jobs left running by a previous daemon so an
// operator can restore them from their last checkpoint.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, current_item = NULL, updated_at = ? WHERE status = ?`,
		StatusPaused,
		InterruptedReason,
		nowString(),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job that is in a terminal state.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE id = ? AND status IN (?, ?, ?)`,
		id, StatusCompleted, StatusError, StatusStopped,
	)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
