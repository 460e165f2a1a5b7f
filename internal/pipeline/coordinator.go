// Package pipeline runs the pipeline stages as background loops or as a
// single pass.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job is one unit of periodic work
type Job func(ctx context.Context) error

// Coordinator runs long-lived tasks and periodic jobs until its context is
// cancelled. Context cancellation is the only stop mechanism.
type Coordinator struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   map[string]error
	logger zerolog.Logger
}

// NewCoordinator creates an idle coordinator
func NewCoordinator() *Coordinator {
	return &Coordinator{
		errs:   map[string]error{},
		logger: log.With().Str("component", "coordinator").Logger(),
	}
}

// Go runs task once in the background. A task returning an error is logged
// and recorded; the other tasks keep running.
func (c *Coordinator) Go(ctx context.Context, name string, task Job) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := task(ctx); err != nil {
			c.logger.Error().Err(err).Str("task", name).Msg("Task stopped")
			c.mu.Lock()
			c.errs[name] = err
			c.mu.Unlock()
			return
		}
		c.logger.Info().Str("task", name).Msg("Task finished")
	}()
}

// Every runs job immediately and then every interval. Job errors are logged
// and the schedule continues.
func (c *Coordinator) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runJob(ctx, name, job)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runJob(ctx, name, job)
			}
		}
	}()
}

func (c *Coordinator) runJob(ctx context.Context, name string, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Str("job", name).Msg("Job failed")
		return
	}
	c.logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Job done")
}

// Wait blocks until every task and loop has returned. Call after cancelling
// the context passed to Go and Every.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Errors returns the errors of tasks that stopped with one, by task name
func (c *Coordinator) Errors() map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]error, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}
