// Package dispatcher drains the signal queue: every claimed event is
// classified, reasoned about and stored as a Signal.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/classify"
	"github.com/Alias1177/TruthMesh/internal/lock"
	"github.com/Alias1177/TruthMesh/internal/reason"
	"github.com/Alias1177/TruthMesh/models"
)

// LeaseName is the drain lease every Run competes for
const LeaseName = "signal-drain"

var (
	// ErrLockHeld is returned by Run when another process is draining
	ErrLockHeld = lock.ErrHeld
	// ErrLeaseLost stops Run when the lease was taken over
	ErrLeaseLost = errors.New("drain lease lost")
)

// Store is the queue and signal persistence the dispatcher needs
type Store interface {
	ClaimBatch(ctx context.Context, limit int, ttl time.Duration) ([]models.ClaimedEntry, error)
	ClaimOne(ctx context.Context, ttl time.Duration) (*models.ClaimedEntry, error)
	ReleaseClaim(ctx context.Context, entry models.ClaimedEntry, retryAfter time.Duration, cause error) error
	MarkProcessed(ctx context.Context, queueID int64) error
	SignalExists(ctx context.Context, rawEventID int64) (bool, error)
	InsertSignal(ctx context.Context, s *models.Signal) (*models.Signal, error)
}

// Classifier assigns a category to text
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// Reasoner summarizes text for a category
type Reasoner interface {
	Reason(ctx context.Context, text, category string) (reason.Result, error)
}

// Notifier delivers operator alerts
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Config tunes the drain loop
type Config struct {
	BatchSize    int
	ClaimTTL     time.Duration
	LeaseTTL     time.Duration
	RetryDelay   time.Duration
	IdleInterval time.Duration
	ErrorBackoff time.Duration
	EntryTimeout time.Duration
	// MalformedThreshold consecutive malformed answers trigger an alert
	MalformedThreshold int

	ReasoningModel string
	EmbeddingModel string
	Notifier       Notifier
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 2 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 3 * time.Second
	}
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = 2 * time.Minute
	}
	if c.MalformedThreshold <= 0 {
		c.MalformedThreshold = 5
	}
}

// Dispatcher turns queued events into signals
type Dispatcher struct {
	store      Store
	leases     lock.Store
	classifier Classifier
	reasoner   Reasoner
	cfg        Config
	logger     zerolog.Logger

	mu        sync.Mutex
	malformed int
}

// New creates a dispatcher
func New(store Store, leases lock.Store, classifier Classifier, reasoner Reasoner, cfg Config) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		store:      store,
		leases:     leases,
		classifier: classifier,
		reasoner:   reasoner,
		cfg:        cfg,
		logger:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run drains the queue until ctx is cancelled. Only one Run holds the drain
// lease at a time; a second one returns ErrLockHeld without touching the queue.
// Cancelling ctx lets the in-flight entry finish and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	lease := lock.New(d.leases, LeaseName, d.cfg.LeaseTTL)
	if err := lease.Acquire(ctx); err != nil {
		return err
	}

	lost, stopKeepAlive := lease.KeepAlive(ctx)
	defer func() {
		stopKeepAlive()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to release drain lease")
		}
	}()

	d.logger.Info().Int("batch_size", d.cfg.BatchSize).Msg("Drain loop started")
	defer d.logger.Info().Msg("Drain loop stopped")

	for {
		if stop, err := stopped(ctx, lost); stop {
			return err
		}

		batch, err := d.store.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.ClaimTTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error().Err(err).Msg("Failed to claim queue entries")
			if stop, err := wait(ctx, lost, d.cfg.ErrorBackoff); stop {
				return err
			}
			continue
		}

		if len(batch) == 0 {
			if stop, err := wait(ctx, lost, d.cfg.IdleInterval); stop {
				return err
			}
			continue
		}

		for i, entry := range batch {
			if stop, err := stopped(ctx, lost); stop {
				d.releaseAll(ctx, batch[i:])
				return err
			}
			// failures are logged and released inside; the loop moves on
			_ = d.handle(ctx, entry)
		}
	}
}

// ProcessOne claims and processes a single entry without taking the lease.
// It returns false when the queue had nothing claimable.
func (d *Dispatcher) ProcessOne(ctx context.Context) (bool, error) {
	entry, err := d.store.ClaimOne(ctx, d.cfg.ClaimTTL)
	if err != nil {
		return false, fmt.Errorf("claiming queue entry: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	return true, d.handle(ctx, *entry)
}

// handle runs one entry on a context detached from cancellation, so a stop
// request never abandons a half-processed entry
func (d *Dispatcher) handle(ctx context.Context, entry models.ClaimedEntry) error {
	entryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.EntryTimeout)
	defer cancel()

	logger := d.logger.With().Int64("queue_id", entry.QueueID).Int64("raw_event_id", entry.RawEventID).Logger()

	err := d.process(entryCtx, entry, logger)
	d.trackMalformed(entryCtx, err)
	if err == nil {
		return nil
	}

	logger.Error().Err(err).Msg("Failed to process queue entry")
	if relErr := d.store.ReleaseClaim(entryCtx, entry, d.cfg.RetryDelay, err); relErr != nil {
		logger.Error().Err(relErr).Msg("Failed to release claim")
	}
	return err
}

func (d *Dispatcher) process(ctx context.Context, entry models.ClaimedEntry, logger zerolog.Logger) error {
	exists, err := d.store.SignalExists(ctx, entry.RawEventID)
	if err != nil {
		return fmt.Errorf("checking existing signal: %w", err)
	}
	if exists {
		logger.Debug().Msg("Signal already exists, marking processed")
		return d.store.MarkProcessed(ctx, entry.QueueID)
	}

	class, err := d.classifier.Classify(ctx, entry.Text)
	if err != nil {
		return fmt.Errorf("classifying: %w", err)
	}

	res, err := d.reasoner.Reason(ctx, entry.Text, class.Category)
	if err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}

	stored, err := d.store.InsertSignal(ctx, &models.Signal{
		RawEventID: entry.RawEventID,
		Category:   class.Category,
		Relevance:  class.Relevance,
		Confidence: res.Confidence,
		Summary:    res.Summary,
		Reasoning:  res.Reasoning,
		ModelMetadata: models.ModelMetadata{
			SchemaVersion:  models.ModelMetadataVersion,
			ReasoningModel: d.cfg.ReasoningModel,
			EmbeddingModel: d.cfg.EmbeddingModel,
		},
	})
	if err != nil {
		return fmt.Errorf("storing signal: %w", err)
	}

	if err := d.store.MarkProcessed(ctx, entry.QueueID); err != nil {
		return fmt.Errorf("marking processed: %w", err)
	}

	if stored != nil {
		logger.Info().
			Int64("signal_id", stored.ID).
			Str("category", stored.Category).
			Float64("relevance", stored.Relevance).
			Float64("confidence", stored.Confidence).
			Msg("Signal created")
	}
	return nil
}

func (d *Dispatcher) trackMalformed(ctx context.Context, err error) {
	d.mu.Lock()
	if !errors.Is(err, reason.ErrMalformedResponse) {
		d.malformed = 0
		d.mu.Unlock()
		return
	}
	d.malformed++
	count := d.malformed
	d.mu.Unlock()

	if count != d.cfg.MalformedThreshold {
		return
	}
	d.logger.Error().Int("consecutive", count).Msg("Reasoning model keeps returning malformed answers")
	if d.cfg.Notifier != nil {
		msg := fmt.Sprintf("Signal extraction: %d malformed reasoning answers in a row, last error: %v", count, err)
		if nerr := d.cfg.Notifier.Notify(ctx, msg); nerr != nil {
			d.logger.Warn().Err(nerr).Msg("Failed to send notification")
		}
	}
}

// releaseAll hands unstarted entries back to the queue immediately
func (d *Dispatcher) releaseAll(ctx context.Context, entries []models.ClaimedEntry) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, e := range entries {
		if err := d.store.ReleaseClaim(releaseCtx, e, 0, nil); err != nil {
			d.logger.Warn().Err(err).Int64("queue_id", e.QueueID).Msg("Failed to release claim")
		}
	}
}

func stopped(ctx context.Context, lost <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, nil
	case <-lost:
		return true, ErrLeaseLost
	default:
		return false, nil
	}
}

func wait(ctx context.Context, lost <-chan struct{}, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true, nil
	case <-lost:
		return true, ErrLeaseLost
	case <-timer.C:
		return false, nil
	}
}
