package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/faceponto/internal/observability"
)

// ErrQueueFull is returned by Submit when the job buffer is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// Job is one unit of background work. The context is the pool's run context;
// jobs that need a tighter bound derive their own.
type Job func(ctx context.Context)

type pending struct {
	key string
	job Job
}

// Pool runs background jobs on a fixed number of workers over a bounded
// buffer. Jobs are keyed: submitting a key that is already queued or running
// is a no-op, which makes repeated submissions for the same user coalesce
// instead of piling up.
type Pool struct {
	jobs    chan pending
	workers int
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	wg      sync.WaitGroup
	started bool
}

// NewPool creates a pool with the given worker count and buffer capacity.
func NewPool(workers, capacity int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		jobs:     make(chan pending, capacity),
		workers:  workers,
		logger:   logger.Named("worker_pool"),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the workers. Jobs run until Stop is called; ctx cancels
// work in progress.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for item := range p.jobs {
				p.run(ctx, workerID, item)
			}
		}(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("capacity", cap(p.jobs)))
}

func (p *Pool) run(ctx context.Context, workerID int, item pending) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, item.key)
		p.mu.Unlock()
		observability.EnrollQueueDepth.Dec()

		if rec := recover(); rec != nil {
			p.logger.Error("job panicked", zap.Int("worker", workerID), zap.String("key", item.key), zap.Any("panic", rec))
		}
	}()
	item.job(ctx)
}

// Submit enqueues a job. Duplicate keys already queued or running are
// silently coalesced. Returns ErrQueueFull when the buffer has no room.
func (p *Pool) Submit(key string, job Job) error {
	p.mu.Lock()
	if _, exists := p.inflight[key]; exists {
		p.mu.Unlock()
		return nil
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- pending{key: key, job: job}:
		observability.EnrollQueueDepth.Inc()
		return nil
	default:
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
		return ErrQueueFull
	}
}

// Depth reports the number of buffered jobs not yet picked up by a worker.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// Stop closes the queue and waits for queued and running jobs to finish.
// Submit must not be called after Stop.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}
