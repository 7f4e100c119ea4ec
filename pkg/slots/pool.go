package slots

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// PoolConfig holds configuration for a Pool.
type PoolConfig struct {
	NumWorkers int
}

// Pool runs fetch jobs with at most NumWorkers of them in flight. Submitting
// never blocks the caller.
type Pool struct {
	numWorkers int
	sem        *semaphore.Weighted
	logger     zerolog.Logger

	// mu orders wg.Add in Submit against the start of Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewPool creates a new Pool.
func NewPool(cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5 // Default to a reasonable number of workers.
	}
	return &Pool{
		numWorkers: cfg.NumWorkers,
		sem:        semaphore.NewWeighted(int64(cfg.NumWorkers)),
		logger:     logger.With().Str("component", "FetchPool").Logger(),
	}
}

// Submit schedules job. An accepted job always runs exactly once: if ctx is
// done before a worker frees up, job runs immediately with the done ctx so
// that it can report its own cancellation without doing any work. Submit
// returns false, and job never runs, once Wait has been called.
func (p *Pool) Submit(ctx context.Context, job func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			job(ctx)
			return
		}
		defer p.sem.Release(1)
		job(ctx)
	}()
	return true
}

// Wait stops the pool accepting jobs and blocks until every accepted job has
// returned, or ctx expires.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug().Msg("All fetch jobs completed.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for fetch jobs to finish.")
		return ctx.Err()
	}
}
