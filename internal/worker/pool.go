package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Dispatch when no more stories can be queued.
var ErrQueueFull = errors.New("story queue is full")

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("story pool stopped")

// RunFunc processes one story.
type RunFunc func(ctx context.Context, storyID int64) error

// Pool runs stories on a fixed number of goroutines fed by a buffered
// channel. It is used when no Redis queue is configured.
type Pool struct {
	jobs        chan int64
	concurrency int
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool with the given number of workers and queue slots.
func NewPool(concurrency, queueSize int, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:        make(chan int64, queueSize),
		concurrency: concurrency,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Dispatch queues a story without blocking.
func (p *Pool) Dispatch(_ context.Context, storyID int64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- storyID:
		return nil
	default:
		return fmt.Errorf("story %d: %w", storyID, ErrQueueFull)
	}
}

// Start launches the workers. It must be called once.
func (p *Pool) Start(run RunFunc) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.work(i, run)
	}
	p.logger.Info("Worker pool started", "concurrency", p.concurrency, "queue_size", cap(p.jobs))
}

func (p *Pool) work(n int, run RunFunc) {
	defer p.wg.Done()
	for id := range p.jobs {
		p.runOne(n, id, run)
	}
}

func (p *Pool) runOne(n int, id int64, run RunFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Story job panicked", "worker", n, "story_id", id, "panic", r)
		}
	}()

	if err := run(p.ctx, id); err != nil {
		p.logger.Error("Story job failed", "worker", n, "story_id", id, "error", err)
	}
}

// Stop stops intake, cancels running jobs and waits for the workers to
// drain the queue or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}
