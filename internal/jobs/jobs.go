// Package jobs runs fire-and-forget background work (account linking,
// linked-ban propagation) on a bounded worker pool. Jobs carry their tenant
// store and never touch request state; panics are recovered and logged.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/storage"
)

// Job is one unit of background work bound to a tenant.
type Job struct {
	Name  string
	Store storage.Store
	Run   func(ctx context.Context, store storage.Store)
}

// Runner owns the worker pool.
type Runner struct {
	queue  chan Job
	log    zerolog.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewRunner starts workers draining a queue of the given capacity.
func NewRunner(workers, capacity int, log zerolog.Logger) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if capacity <= 0 {
		capacity = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:  make(chan Job, capacity),
		log:    log,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

// Submit enqueues a job. Returns false when the queue is full or the runner
// is shut down; the caller treats that as a logged drop, never an error.
// The send happens under the same lock Shutdown closes the queue under, so a
// concurrent shutdown can never turn it into a send on a closed channel.
func (r *Runner) Submit(job Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- job:
		return true
	default:
		r.log.Warn().Str("job", job.Name).Msg("background queue full, dropping job")
		return false
	}
}

// Shutdown stops accepting jobs, waits for in-flight work, and abandons the
// rest when the context expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Str("job", job.Name).
				Str("server", job.Store.ServerName()).
				Msg("background job panicked")
		}
	}()
	job.Run(ctx, job.Store)
	r.log.Debug().
		Str("job", job.Name).
		Str("server", job.Store.ServerName()).
		Dur("took", time.Since(start)).
		Msg("background job finished")
}
