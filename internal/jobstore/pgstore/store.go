package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docbatch/internal/config"
	"docbatch/internal/jobstore"
)

//go:embed schema.sql
var schemaSQL string

const jobColumns = "id, name, status, mode, source_root, recursive, concurrency, max_retries, total, processed, succeeded, failed, dispatched_count, acknowledged_count, dispatch_generation, current_item, error_message, export_dir, created_at, updated_at, completed_at"

// Store persists jobs in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ jobstore.Repository = (*Store)(nil)

// Open connects to the configured DSN and ensures the schema exists.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.Store.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("store.postgres_dsn is required for the postgres driver")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Store.MaxConns > 0 {
		pc.MaxConns = int32(cfg.Store.MaxConns)
	}
	pc.MaxConnIdleTime = 5 * time.Minute
	pc.ConnConfig.RuntimeParams["application_name"] = "docbatch"

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", jobstore.ErrNotFound, id)
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func scanJob(row pgx.Row) (*jobstore.Job, error) {
	var (
		job          jobstore.Job
		status, mode string
		currentItem  *string
		errorMessage *string
		exportDir    *string
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&status,
		&mode,
		&job.SourceRoot,
		&job.Recursive,
		&job.Concurrency,
		&job.MaxRetries,
		&job.Total,
		&job.Processed,
		&job.Succeeded,
		&job.Failed,
		&job.DispatchedCount,
		&job.AcknowledgedCount,
		&job.DispatchGeneration,
		&currentItem,
		&errorMessage,
		&exportDir,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = jobstore.Status(status)
	job.Mode = jobstore.Mode(mode)
	if currentItem != nil {
		job.CurrentItem = *currentItem
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	if exportDir != nil {
		job.ExportDir = *exportDir
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*jobstore.Job, error) {
	defer rows.Close()
	var jobs []*jobstore.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Create inserts a new job, generating an ID when missing.
func (s *Store) Create(ctx context.Context, job *jobstore.Job) (*jobstore.Job, error) {
	if job == nil {
		return nil, errors.New("create job: nil job")
	}
	record := *job
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = jobstore.StatusPending
	}
	if record.Mode == "" {
		record.Mode = jobstore.ModeInProcess
	}
	if record.Total < 0 {
		return nil, fmt.Errorf("create job: total must not be negative")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO docbatch_jobs (id, name, status, mode, source_root, recursive, concurrency, max_retries, total, export_dir)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, record.Name, string(record.Status), string(record.Mode), record.SourceRoot,
		record.Recursive, record.Concurrency, record.MaxRetries, record.Total, nullable(record.ExportDir),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, record.ID)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*jobstore.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM docbatch_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...jobstore.Status) ([]*jobstore.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM docbatch_jobs`
	var args []any
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, values)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// UpdateStatus moves a job to status when the state machine allows it.
func (s *Store) UpdateStatus(ctx context.Context, id string, status jobstore.Status, extra jobstore.Extra) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM docbatch_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("read job status: %w", err)
		}
		from := jobstore.Status(current)
		if from != status && !jobstore.CanTransition(from, status) {
			return jobstore.InvalidTransition(id, from, status)
		}
		_, err = updateStatus(ctx, tx, id, from, status, extra)
		return err
	})
}

// TransitionStatus performs a compare-and-set status change.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to jobstore.Status, extra jobstore.Extra) (bool, error) {
	if from != to && !jobstore.CanTransition(from, to) {
		return false, jobstore.InvalidTransition(id, from, to)
	}
	return updateStatus(ctx, s.pool, id, from, to, extra)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateStatus(ctx context.Context, db querier, id string, from, to jobstore.Status, extra jobstore.Extra) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE docbatch_jobs SET status = $1, error_message = $2, export_dir = COALESCE($3, export_dir),
            completed_at = CASE WHEN $4 THEN now() ELSE NULL END, updated_at = now()
         WHERE id = $5 AND status = $6`,
		string(to), nullable(extra.Message), nullable(extra.ExportDir), to.IsTerminal(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress persists the counters reported after each settled item.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress jobstore.Progress) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE docbatch_jobs SET processed = $1, succeeded = $2, failed = $3, current_item = $4, updated_at = now() WHERE id = $5`,
		progress.Processed, progress.Succeeded, progress.Failed, nullable(progress.CurrentItem), id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// SaveCheckpoint replaces the job's checkpoint after validating it against the job total.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, cp jobstore.Checkpoint) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var total int
		err := tx.QueryRow(ctx, `SELECT total FROM docbatch_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&total)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
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
		return writeCheckpoint(ctx, tx, id, cp)
	})
}

// GetCheckpoint returns the job's last checkpoint, or an empty one.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (jobstore.Checkpoint, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT checkpoint_json FROM docbatch_jobs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.Checkpoint{}, notFound(id)
	}
	if err != nil {
		return jobstore.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return jobstore.DecodeCheckpoint(raw)
}

// AppendOutcome appends one worker outcome under a row lock.
func (s *Store) AppendOutcome(ctx context.Context, id string, outcome jobstore.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			raw   []byte
			total int
		)
		err := tx.QueryRow(ctx, `SELECT checkpoint_json, total FROM docbatch_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw, &total)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		cp, err := jobstore.DecodeCheckpoint(raw)
		if err != nil {
			return err
		}
		cp.Total = total
		cp.Apply(outcome)
		return writeCheckpoint(ctx, tx, id, cp)
	})
}

func writeCheckpoint(ctx context.Context, tx pgx.Tx, id string, cp jobstore.Checkpoint) error {
	data, err := jobstore.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	succeeded, failed := cp.Distinct()
	_, err = tx.Exec(ctx,
		`UPDATE docbatch_jobs SET checkpoint_json = $1, processed = $2, succeeded = $3, failed = $4, updated_at = now() WHERE id = $5`,
		string(data), cp.ProcessedCount, succeeded, failed, id,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// RecordDispatched adds count to the job's dispatched counter.
func (s *Store) RecordDispatched(ctx context.Context, id string, count int) error {
	if count <= 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE docbatch_jobs SET dispatched_count = dispatched_count + $1, updated_at = now() WHERE id = $2`,
		count, id,
	)
	if err != nil {
		return fmt.Errorf("record dispatched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// RecordAcknowledged increments the job's acknowledged counter for the
// current dispatch generation.
func (s *Store) RecordAcknowledged(ctx context.Context, id string, generation int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE docbatch_jobs SET acknowledged_count = acknowledged_count + 1, updated_at = now()
         WHERE id = $1 AND dispatch_generation = $2`,
		id, generation,
	)
	if err != nil {
		return fmt.Errorf("record acknowledged: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current int
	err = s.pool.QueryRow(ctx, `SELECT dispatch_generation FROM docbatch_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("record acknowledged: %w", err)
	}
	return fmt.Errorf("%w: job %s is at generation %d, got %d", jobstore.ErrStaleDispatch, id, current, generation)
}

// ResetDispatch overwrites both counters and starts a new dispatch generation.
func (s *Store) ResetDispatch(ctx context.Context, id string, dispatched, acknowledged int) (int, error) {
	if dispatched < 0 || acknowledged < 0 || acknowledged > dispatched {
		return 0, fmt.Errorf("reset dispatch: invalid counters %d/%d", acknowledged, dispatched)
	}
	var generation int
	err := s.pool.QueryRow(ctx,
		`UPDATE docbatch_jobs SET dispatched_count = $1, acknowledged_count = $2,
            dispatch_generation = dispatch_generation + 1, updated_at = now()
         WHERE id = $3 RETURNING dispatch_generation`,
		dispatched, acknowledged, id,
	).Scan(&generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("reset dispatch: %w", err)
	}
	return generation, nil
}

// FindReadyForAggregation returns processing jobs whose counters have converged.
func (s *Store) FindReadyForAggregation(ctx context.Context) ([]*jobstore.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM docbatch_jobs
         WHERE status = $1 AND dispatched_count > 0 AND acknowledged_count = dispatched_count
         ORDER BY created_at, id`,
		string(jobstore.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("find ready jobs: %w", err)
	}
	return collectJobs(rows)
}

// CompleteJob stores the final results and moves the job to completed at most once.
func (s *Store) CompleteJob(ctx context.Context, id string, from jobstore.Status, final jobstore.FinalResults, exportDir string) (bool, error) {
	if !jobstore.CanTransition(from, jobstore.StatusCompleted) {
		return false, jobstore.InvalidTransition(id, from, jobstore.StatusCompleted)
	}
	data, err := json.Marshal(final)
	if err != nil {
		return false, fmt.Errorf("encode results: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE docbatch_jobs SET status = $1, results_json = $2, export_dir = COALESCE($3, export_dir),
            error_message = NULL, current_item = NULL, completed_at = now(), updated_at = now()
         WHERE id = $4 AND status = $5`,
		string(jobstore.StatusCompleted), string(data), nullable(exportDir), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetResults returns the final result set persisted by CompleteJob.
func (s *Store) GetResults(ctx context.Context, id string) (jobstore.FinalResults, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT results_json FROM docbatch_jobs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobstore.FinalResults{}, notFound(id)
	}
	if err != nil {
		return jobstore.FinalResults{}, fmt.Errorf("get results: %w", err)
	}
	var final jobstore.FinalResults
	if len(raw) == 0 {
		return final, nil
	}
	if err := json.Unmarshal(raw, &final); err != nil {
		return jobstore.FinalResults{}, fmt.Errorf("decode results: %w", err)
	}
	return final, nil
}

// ResetInterrupted pauses jobs left running by a previous daemon.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE docbatch_jobs SET status = $1, error_message = $2, current_item = NULL, updated_at = now() WHERE status = $3`,
		string(jobstore.StatusPaused), jobstore.InterruptedReason, string(jobstore.StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Remove deletes a job that is in a terminal state.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM docbatch_jobs WHERE id = $1 AND status = ANY($2)`,
		id, []string{string(jobstore.StatusCompleted), string(jobstore.StatusError), string(jobstore.StatusStopped)},
	)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
