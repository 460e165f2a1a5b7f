package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency   = 5
	defaultSourceTimeout = 30 * time.Second
)

// Result is the outcome of polling one source
type Result struct {
	Source   string
	Fetched  int
	Inserted int
	Err      error
}

// Runner polls every source in parallel and ingests what they return
type Runner struct {
	sources     []Source
	ingestor    *Ingestor
	concurrency int
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewRunner creates a poll runner. Zero concurrency or timeout use defaults.
func NewRunner(ingestor *Ingestor, sources []Source, concurrency int, timeout time.Duration) *Runner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	return &Runner{
		sources:     append([]Source(nil), sources...),
		ingestor:    ingestor,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      log.With().Str("component", "poller").Logger(),
	}
}

// Sources returns the configured sources
func (r *Runner) Sources() []Source {
	return r.sources
}

// Poll fetches every source once. A failing source never fails the others;
// its error is reported in its Result. Results follow the source order.
func (r *Runner) Poll(ctx context.Context) []Result {
	results := make([]Result, len(r.sources))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, src := range r.sources {
		results[i].Source = src.Name()
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].Err = ctx.Err()
				return nil
			}
			results[i] = r.pollSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		event := r.logger.Info()
		if res.Err != nil {
			event = r.logger.Warn().Err(res.Err)
		}
		event.Str("source", res.Source).
			Int("fetched", res.Fetched).
			Int("inserted", res.Inserted).
			Msg("Poll finished")
	}
	return results
}

func (r *Runner) pollSource(ctx context.Context, src Source) Result {
	res := Result{Source: src.Name()}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	events, err := src.Fetch(fetchCtx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Fetched = len(events)

	var errs []error
	for _, ev := range events {
		stored, err := r.ingestor.Ingest(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if stored != nil {
			res.Inserted++
		}
	}
	res.Err = errors.Join(errs...)
	return res
}
