// Package workerpool runs batches of independent jobs with bounded parallelism.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config configures a Pool.
type Config struct {
	MaxConcurrent int // Maximum jobs in flight (default: 1)
}

// DefaultConfig runs one job at a time.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 1}
}

// Pool bounds how many jobs of a batch run at once. New jobs start as soon
// as a slot frees up.
type Pool struct {
	config Config
	logger *zap.Logger
}

// New creates a Pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// MaxConcurrent returns the configured bound.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// Job is a unit of work.
type Job[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// Result is the outcome of one Job.
type Result[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs every job and returns one Result per job in submission
// order. A failing job does not stop the others. Jobs that have not started
// when ctx is done get ctx.Err() as their error.
func Process[T any](ctx context.Context, pool *Pool, jobs []Job[T]) []Result[T] {
	if len(jobs) == 0 {
		return nil
	}

	results := make([]Result[T], len(jobs))
	sem := semaphore.NewWeighted(int64(pool.config.MaxConcurrent))

	var wg sync.WaitGroup
	for i, job := range jobs {
		results[i].ID = job.ID

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		go func(i int, job Job[T]) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := job.Execute(ctx)
			results[i].Result = result
			results[i].Err = err
			if err != nil {
				pool.logger.Debug("Job failed", zap.String("id", job.ID), zap.Error(err))
			}
		}(i, job)
	}
	wg.Wait()

	return results
}
