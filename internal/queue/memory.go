package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"changeguard/internal/domain"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("job queue is full")

// ErrQueueClosed is returned by MemoryQueue.Enqueue after Close.
var ErrQueueClosed = errors.New("job queue is closed")

// DefaultBufferSize is the job buffer of a MemoryQueue.
const DefaultBufferSize = 256

var _ domain.JobQueue = (*MemoryQueue)(nil)

// MemoryQueue is an in-process job queue served by a bounded worker pool.
// Jobs buffered at shutdown are lost; their runs stay queued and are picked
// up again by the reconciler.
type MemoryQueue struct {
	jobs        chan domain.SimulationJob
	concurrency int
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a MemoryQueue. concurrency bounds the number of
// jobs handled at once.
func NewMemoryQueue(bufferSize, concurrency int, logger *slog.Logger) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryQueue{
		jobs:        make(chan domain.SimulationJob, bufferSize),
		concurrency: concurrency,
		logger:      logger.With("component", "memory-queue"),
	}
}

// Enqueue buffers job without blocking.
func (q *MemoryQueue) Enqueue(_ context.Context, job domain.SimulationJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs. Run drains what is already buffered and
// returns.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Run dispatches jobs to handler until ctx is cancelled or the queue is
// closed and drained, then waits for in-flight jobs. Handler errors are
// logged and counted, never returned.
func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	g := new(errgroup.Group)
	g.SetLimit(q.concurrency)

	q.logger.Info("worker pool started", "concurrency", q.concurrency)
	defer q.logger.Info("worker pool stopped")

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case job, ok := <-q.jobs:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				_ = process(ctx, BackendMemory, handler, job, q.logger)
				return nil
			})
		}
	}
}
