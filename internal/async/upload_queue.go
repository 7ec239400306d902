// Package async runs blob persistence on a bounded pool of workers so slow remote
// uploads do not hold up document intake. Callers await each job's outcome.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/nfe-ocr/internal/storage"
)

// ErrQueueClosed is returned by Submit after Shutdown has started.
var ErrQueueClosed = errors.New("upload queue is shutting down")

// Persister is satisfied by *storage.Coordinator.
type Persister interface {
	PersistFile(ctx context.Context, f storage.File) storage.Outcome
}

// Job is one blob write.
type Job struct {
	ID          uuid.UUID
	File        storage.File
	SubmittedAt time.Time
	TraceID     string

	ctx  context.Context
	done chan storage.Outcome
}

// Ticket resolves to the job's outcome once a worker has run it.
type Ticket struct {
	JobID uuid.UUID
	done  <-chan storage.Outcome
}

// Wait blocks until the outcome is ready or ctx ends.
func (t Ticket) Wait(ctx context.Context) (storage.Outcome, error) {
	select {
	case out := <-t.done:
		return out, nil
	case <-ctx.Done():
		return storage.Outcome{}, ctx.Err()
	}
}

type UploadQueue struct {
	persister Persister
	logger    *slog.Logger
	workers   int
	timeout   time.Duration

	ch   chan *Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*UploadQueue)

func WithWorkers(n int) Option {
	return func(q *UploadQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *UploadQueue) {
		if n > 0 {
			q.ch = make(chan *Job, n)
		}
	}
}

// WithUploadTimeout bounds each job independently of the submitter's context.
func WithUploadTimeout(d time.Duration) Option {
	return func(q *UploadQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewUploadQueue(p Persister, logger *slog.Logger, opts ...Option) *UploadQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &UploadQueue{
		persister: p,
		logger:    logger,
		workers:   2,
		timeout:   2 * time.Minute,
		ch:        make(chan *Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *UploadQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("async.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *UploadQueue) run(workerID int, job *Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), q.timeout)
	defer cancel()

	start := time.Now()
	out := q.persister.PersistFile(ctx, job.File)
	q.logger.Info("async.upload.done",
		"worker_id", workerID,
		"job_id", job.ID,
		"trace_id", job.TraceID,
		"success", out.Success,
		"backend", out.Backend,
		"queued_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	job.done <- out
}

// Submit enqueues f, blocking while the queue is full. Values from ctx (request ID, logger)
// are kept for the upload but its cancellation is not: a started upload runs to completion.
func (q *UploadQueue) Submit(ctx context.Context, f storage.File, traceID string) (Ticket, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Ticket{}, ErrQueueClosed
	}

	job := &Job{
		ID:          uuid.New(),
		File:        f,
		SubmittedAt: time.Now(),
		TraceID:     traceID,
		ctx:         ctx,
		done:        make(chan storage.Outcome, 1),
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("async.queue.full", "job_id", job.ID, "filename", f.Name)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			return Ticket{}, ctx.Err()
		}
	}
	return Ticket{JobID: job.ID, done: job.done}, nil
}

// Persist submits f and waits for its outcome.
func (q *UploadQueue) Persist(ctx context.Context, f storage.File, traceID string) (storage.Outcome, error) {
	t, err := q.Submit(ctx, f, traceID)
	if err != nil {
		return storage.Outcome{}, err
	}
	return t.Wait(ctx)
}

// Shutdown stops intake and waits for queued jobs to drain, or for ctx to end.
func (q *UploadQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("async.shutdown.interrupted")
	case <-done:
		q.logger.Info("async.shutdown.drained")
	}
}
