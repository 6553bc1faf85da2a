package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordDispatched adds count to the job's dispatched counter.
func (s *Store) RecordDispatched(ctx context.Context, id string, count int) error {
	if count <= 0 {
		return nil
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET dispatched_count = dispatched_count + ?, updated_at = ? WHERE id = ?`,
		count, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("record dispatched: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RecordAcknowledged increments the job's acknowledged counter when
// generation is still the job's dispatch generation. Workers call it after
// their outcome is stored, but the two writes are independent.
func (s *Store) RecordAcknowledged(ctx context.Context, id string, generation int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET acknowledged_count = acknowledged_count + 1, updated_at = ?
         WHERE id = ? AND dispatch_generation = ?`,
		nowString(), id, generation,
	)
	if err != nil {
		return fmt.Errorf("record acknowledged: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var current int
	err = s.db.QueryRowContext(ensureContext(ctx), `SELECT dispatch_generation FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("record acknowledged: %w", err)
	}
	return fmt.Errorf("%w: job %s is at generation %d, got %d", ErrStaleDispatch, id, current, generation)
}

// ResetDispatch overwrites both counters and starts a new dispatch
// generation, returning it. Re-dispatch uses it to recount outstanding items.
func (s *Store) ResetDispatch(ctx context.Context, id string, dispatched, acknowledged int) (int, error) {
	if dispatched < 0 || acknowledged < 0 || acknowledged > dispatched {
		return 0, fmt.Errorf("reset dispatch: invalid counters %d/%d", acknowledged, dispatched)
	}
	var generation int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET dispatched_count = ?, acknowledged_count = ?,
                dispatch_generation = dispatch_generation + 1, updated_at = ?
             WHERE id = ?`,
			dispatched, acknowledged, nowString(), id,
		)
		if err != nil {
			return fmt.Errorf("reset dispatch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.QueryRowContext(ctx, `SELECT dispatch_generation FROM jobs WHERE id = ?`, id).Scan(&generation)
	})
	return generation, err
}

// FindReadyForAggregation returns processing jobs whose acknowledged counter
// has caught up with the dispatched counter.
func (s *Store) FindReadyForAggregation(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND dispatched_count > 0 AND acknowledged_count = dispatched_count
         ORDER BY created_at, id`,
		StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("find ready jobs: %w", err)
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
