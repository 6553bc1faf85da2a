package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"docbatch/internal/logging"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// LocalQueue feeds tasks to a fixed pool of handlers in this process.
type LocalQueue struct {
	handler Handler
	workers int
	tasks   chan Task
	quit    chan struct{}
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	group   errgroup.Group
}

// NewLocalQueue builds a queue with workers handlers and a buffer of
// capacity tasks.
func NewLocalQueue(handler Handler, workers, capacity int, logger *slog.Logger) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &LocalQueue{
		handler: handler,
		workers: workers,
		tasks:   make(chan Task, capacity),
		quit:    make(chan struct{}),
		logger:  logging.NewComponentLogger(logger, "local-queue"),
	}
}

// Start launches the worker goroutines.
func (q *LocalQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return errors.New("queue already started")
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			q.loop(ctx)
			return nil
		})
	}
	q.logger.Info("local queue started", logging.Int("workers", q.workers))
	return nil
}

// Enqueue blocks until the task is buffered, ctx ends, or the queue closes.
func (q *LocalQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.quit:
		return ErrQueueClosed
	default:
	}
	select {
	case q.tasks <- task:
		return nil
	case <-q.quit:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets workers drain the buffer and waits for them.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()
	_ = q.group.Wait()
}

func (q *LocalQueue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.handle(ctx, task)
		case <-q.quit:
			for {
				select {
				case task := <-q.tasks:
					q.handle(ctx, task)
				default:
					return
				}
			}
		}
	}
}

func (q *LocalQueue) handle(ctx context.Context, task Task) {
	if err := q.handler.Handle(ctx, task); err != nil && ctx.Err() == nil {
		q.logger.Warn("task failed",
			logging.String(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldItemID, task.Item.ID),
			logging.String(logging.FieldEventType, "task_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the item stays unacknowledged until re-dispatched"),
		)
	}
}
