package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveCheckpoint replaces the job's checkpoint blob and mirrors its counters
// into the job row. The checkpoint must be internally consistent and must
// not exceed the job's declared total.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, cp Checkpoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var total int
		err := tx.QueryRowContext(ctx, `SELECT total FROM jobs WHERE id = ?`, id).Scan(&total)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read job total: %w", err)
		}
		if err := cp.Validate(total); err != nil {
			return fmt.Errorf("save checkpoint for %s: %w", id, err)
		}
		if cp.SavedAt.IsZero() {
			cp.SavedAt = time.Now().UTC()
		}
		return writeCheckpointTx(ctx, tx, id, cp)
	})
}

// GetCheckpoint returns the job's last checkpoint, or an empty checkpoint when
// none has been saved.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT checkpoint_json FROM jobs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return DecodeCheckpoint([]byte(raw.String))
}

// AppendOutcome atomically appends one out-of-process outcome to the job's
// checkpoint. Duplicate outcomes are kept for the completion monitor to
// remove; the mirrored job counters count distinct items.
func (s *Store) AppendOutcome(ctx context.Context, id string, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		var total int
		err := tx.QueryRowContext(ctx, `SELECT checkpoint_json, total FROM jobs WHERE id = ?`, id).Scan(&raw, &total)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		cp, err := DecodeCheckpoint([]byte(raw.String))
		if err != nil {
			return err
		}
		cp.Total = total
		cp.Apply(outcome)
		return writeCheckpointTx(ctx, tx, id, cp)
	})
}

func writeCheckpointTx(ctx context.Context, tx *sql.Tx, id string, cp Checkpoint) error {
	data, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	succeeded, failed := cp.Distinct()
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET checkpoint_json = ?, processed = ?, succeeded = ?, failed = ?, updated_at = ? WHERE id = ?`,
		string(data), cp.ProcessedCount, succeeded, failed, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// CompleteJob stores the final result set and moves the job from status from
// to completed in one transaction. It reports false when the job had already
// left status from, so concurrent finalizers complete a job at most once.
func (s *Store) CompleteJob(ctx context.Context, id string, from Status, final FinalResults, exportDir string) (bool, error) {
	if !CanTransition(from, StatusCompleted) {
		return false, InvalidTransition(id, from, StatusCompleted)
	}
	data, err := json.Marshal(final)
	if err != nil {
		return false, fmt.Errorf("encode results: %w", err)
	}
	applied := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, results_json = ?, export_dir = COALESCE(?, export_dir),
                error_message = NULL, current_item = NULL, completed_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusCompleted, string(data), nullableString(exportDir), now, now, id, from,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	})
	return applied, err
}

// GetResults returns the final result set persisted by CompleteJob.
func (s *Store) GetResults(ctx context.Context, id string) (FinalResults, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT results_json FROM jobs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return FinalResults{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return FinalResults{}, fmt.Errorf("get results: %w", err)
	}
	var final FinalResults
	if raw.String == "" {
		return final, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &final); err != nil {
		return FinalResults{}, fmt.Errorf("decode results: %w", err)
	}
	return final, nil
}
