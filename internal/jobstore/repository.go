package jobstore

import "context"

// Repository is the job store contract shared by the SQLite and Postgres
// backends.
type Repository interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	GetByID(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, statuses ...Status) ([]*Job, error)
	UpdateStatus(ctx context.Context, id string, status Status, extra Extra) error
	TransitionStatus(ctx context.Context, id string, from, to Status, extra Extra) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress Progress) error
	SaveCheckpoint(ctx context.Context, id string, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (Checkpoint, error)
	AppendOutcome(ctx context.Context, id string, outcome Outcome) error
	RecordDispatched(ctx context.Context, id string, count int) error
	RecordAcknowledged(ctx context.Context, id string, generation int) error
	ResetDispatch(ctx context.Context, id string, dispatched, acknowledged int) (int, error)
	FindReadyForAggregation(ctx context.Context) ([]*Job, error)
	CompleteJob(ctx context.Context, id string, from Status, final FinalResults, exportDir string) (bool, error)
	GetResults(ctx context.Context, id string) (FinalResults, error)
	ResetInterrupted(ctx context.Context) (int64, error)
	Remove(ctx context.Context, id string) (bool, error)
	Close() error
}

var _ Repository = (*Store)(nil)
