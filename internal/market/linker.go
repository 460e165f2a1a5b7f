// Package market links predictions to on-chain markets and submits them.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/chain"
	"github.com/Alias1177/TruthMesh/internal/oracle"
	"github.com/Alias1177/TruthMesh/models"
)

// Store is what the linker needs from persistence
type Store interface {
	ActiveMarkets(ctx context.Context) ([]models.Market, error)
	PredictionsToLink(ctx context.Context, limit int) ([]models.PredictionContext, error)
	MarkLinkChecked(ctx context.Context, predictionID int64) error
	LinkMarketPrediction(ctx context.Context, mp *models.MarketPrediction) (*models.MarketPrediction, bool, error)
	PendingSubmissions(ctx context.Context, limit int) ([]models.PendingSubmission, error)
	SetPendingTx(ctx context.Context, marketPredictionID int64, txHash, rawTx string) error
	ClearPendingTx(ctx context.Context, marketPredictionID int64) error
	MarkSubmitted(ctx context.Context, marketPredictionID int64, txHash string) error
	MarkRejected(ctx context.Context, marketPredictionID int64, reason string) error
	ConfirmedTxForPrediction(ctx context.Context, predictionID int64) (string, error)
	GetMarketPrediction(ctx context.Context, id int64) (*models.MarketPrediction, error)
}

// Submitter builds, sends and confirms prediction transactions
type Submitter interface {
	BuildPrediction(ctx context.Context, sp *oracle.SignedPrediction) (*types.Transaction, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	WaitConfirmed(ctx context.Context, txHash common.Hash) error
}

// Signer produces oracle signatures
type Signer interface {
	SignValues(id int64, prediction, confidence float64) (*oracle.SignedPrediction, error)
}

// Notifier delivers operator alerts
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Options tunes the linker
type Options struct {
	BatchSize      int
	ConfirmTimeout time.Duration
	SendRetryMax   time.Duration
	// Notifier receives rejected submissions; optional
	Notifier Notifier
}

// Linker matches predictions against active markets and submits the links
type Linker struct {
	store     Store
	signer    Signer
	submitter Submitter
	opts      Options
	logger    zerolog.Logger
}

// NewLinker creates a linker. signer and submitter may be nil, in which case
// links are recorded but never submitted.
func NewLinker(store Store, signer Signer, submitter Submitter, opts Options) *Linker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.SendRetryMax <= 0 {
		opts.SendRetryMax = time.Minute
	}
	return &Linker{
		store:     store,
		signer:    signer,
		submitter: submitter,
		opts:      opts,
		logger:    log.With().Str("component", "market_linker").Logger(),
	}
}

// CanSubmit reports whether the linker is wired to a chain
func (l *Linker) CanSubmit() bool {
	return l.signer != nil && l.submitter != nil
}

// Link records a MarketPrediction for every candidate whose question matches
// the prediction's summary or source text
func (l *Linker) Link(ctx context.Context, pc models.PredictionContext, candidates []models.Market) ([]models.MarketPrediction, error) {
	var links []models.MarketPrediction
	for _, m := range candidates {
		if !Matches(m.Question, pc.Summary, pc.SourceText) {
			continue
		}
		link, created, err := l.store.LinkMarketPrediction(ctx, &models.MarketPrediction{
			MarketID:      m.ID,
			PredictionID:  pc.ID,
			MarketOutcome: OutcomeFor(pc.PredictionValue),
			Confidence:    pc.Confidence,
		})
		if err != nil {
			return links, err
		}
		if created {
			l.logger.Info().
				Int64("prediction_id", pc.ID).
				Str("market", m.ContractMarketID).
				Str("outcome", link.MarketOutcome).
				Msg("Prediction linked to market")
		}
		links = append(links, *link)
	}
	return links, nil
}

// LinkAndSubmit links the prediction and submits every link not yet on chain.
// It returns the links as stored after submission.
func (l *Linker) LinkAndSubmit(ctx context.Context, pc models.PredictionContext, candidates []models.Market) ([]models.MarketPrediction, error) {
	links, err := l.Link(ctx, pc, candidates)
	if err != nil || !l.CanSubmit() {
		return links, err
	}

	marketIDs := make(map[int64]string, len(candidates))
	for _, m := range candidates {
		marketIDs[m.ID] = m.ContractMarketID
	}

	var errs []error
	for i, link := range links {
		if link.SubmittedToChain || link.SubmissionError != nil {
			continue
		}
		sub := models.PendingSubmission{
			MarketPrediction: link,
			ContractMarketID: marketIDs[link.MarketID],
			PredictionValue:  pc.PredictionValue,
		}
		if err := l.Submit(ctx, sub); err != nil {
			errs = append(errs, err)
		}
		if fresh, err := l.store.GetMarketPrediction(ctx, link.ID); err == nil && fresh != nil {
			links[i] = *fresh
		}
	}
	return links, errors.Join(errs...)
}

// Submit puts one link on chain. The signed transaction is stored before it is
// broadcast and every retry sends that same transaction, so a link is never
// submitted twice. A stored transaction is sent again and confirmed rather than
// rebuilt, and a prediction already confirmed through another market reuses
// that transaction.
func (l *Linker) Submit(ctx context.Context, sub models.PendingSubmission) error {
	if !l.CanSubmit() {
		return errors.New("linker has no signer or chain client")
	}
	logger := l.logger.With().Int64("market_prediction_id", sub.ID).Int64("prediction_id", sub.PredictionID).Logger()

	if sub.ChainTxHash != nil {
		err := l.resume(ctx, sub, logger)
		if !errors.Is(err, chain.ErrTxDropped) {
			return err
		}
		logger.Warn().Str("tx", *sub.ChainTxHash).Msg("Pending transaction was dropped, building a new one")
		if err := l.store.ClearPendingTx(ctx, sub.ID); err != nil {
			return err
		}
	}

	confirmed, err := l.store.ConfirmedTxForPrediction(ctx, sub.PredictionID)
	if err != nil {
		return err
	}
	if confirmed != "" {
		logger.Info().Str("tx", confirmed).Msg("Prediction already on chain, reusing transaction")
		return l.store.MarkSubmitted(ctx, sub.ID, confirmed)
	}

	sp, err := l.signer.SignValues(sub.PredictionID, sub.PredictionValue, sub.Confidence)
	if err != nil {
		return l.reject(ctx, sub, err)
	}

	var tx *types.Transaction
	err = l.retry(ctx, logger, "Build", func() error {
		built, err := l.submitter.BuildPrediction(ctx, sp)
		tx = built
		return err
	})
	if err != nil {
		if errors.Is(err, chain.ErrSubmissionRejected) {
			return l.reject(ctx, sub, err)
		}
		return fmt.Errorf("building prediction %d: %w", sub.PredictionID, err)
	}

	raw, err := chain.EncodeTx(tx)
	if err != nil {
		return err
	}
	if err := l.store.SetPendingTx(ctx, sub.ID, tx.Hash().Hex(), raw); err != nil {
		return err
	}

	err = l.retry(ctx, logger, "Broadcast", func() error {
		return l.submitter.Broadcast(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, chain.ErrSubmissionRejected) {
			return l.reject(ctx, sub, err)
		}
		// the stored transaction is broadcast again on the next pass
		return fmt.Errorf("broadcasting prediction %d: %w", sub.PredictionID, err)
	}
	return l.confirm(ctx, sub, tx.Hash())
}

// resume sends a stored transaction again, then waits for it
func (l *Linker) resume(ctx context.Context, sub models.PendingSubmission, logger zerolog.Logger) error {
	txHash := common.HexToHash(*sub.ChainTxHash)
	if sub.ChainTxRaw != nil {
		tx, err := chain.DecodeTx(*sub.ChainTxRaw)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Stored transaction is unreadable, waiting on its hash")
		case tx.Hash() != txHash:
			logger.Warn().Str("tx", txHash.Hex()).Msg("Stored transaction does not match its hash, waiting on the hash")
		default:
			if err := l.submitter.Broadcast(ctx, tx); err != nil {
				if errors.Is(err, chain.ErrSubmissionRejected) {
					return l.reject(ctx, sub, err)
				}
				logger.Warn().Err(err).Str("tx", txHash.Hex()).Msg("Rebroadcast failed, waiting for the transaction anyway")
			}
		}
	}
	return l.confirm(ctx, sub, txHash)
}

// retry runs op with exponential backoff until it succeeds, the error is a
// rejection or SendRetryMax has passed
func (l *Linker) retry(ctx context.Context, logger zerolog.Logger, what string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = l.opts.SendRetryMax
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, chain.ErrSubmissionRejected) {
			return backoff.Permanent(err)
		}
		logger.Warn().Err(err).Msg(what + " failed, retrying")
		return err
	}, backoff.WithContext(policy, ctx))
}

func (l *Linker) confirm(ctx context.Context, sub models.PendingSubmission, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.opts.ConfirmTimeout)
	defer cancel()

	err := l.submitter.WaitConfirmed(waitCtx, txHash)
	switch {
	case err == nil:
		if err := l.store.MarkSubmitted(ctx, sub.ID, txHash.Hex()); err != nil {
			return err
		}
		l.logger.Info().
			Int64("prediction_id", sub.PredictionID).
			Str("market", sub.ContractMarketID).
			Str("tx", txHash.Hex()).
			Msg("Prediction confirmed on chain")
		return nil
	case errors.Is(err, chain.ErrSubmissionRejected):
		return l.reject(ctx, sub, err)
	default:
		return err
	}
}

func (l *Linker) reject(ctx context.Context, sub models.PendingSubmission, cause error) error {
	l.logger.Error().Err(cause).
		Int64("prediction_id", sub.PredictionID).
		Str("market", sub.ContractMarketID).
		Msg("Prediction submission rejected")

	if err := l.store.MarkRejected(ctx, sub.ID, cause.Error()); err != nil {
		return err
	}
	if l.opts.Notifier != nil {
		msg := fmt.Sprintf("Prediction %d for market %s was rejected: %v", sub.PredictionID, sub.ContractMarketID, cause)
		if err := l.opts.Notifier.Notify(ctx, msg); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to send notification")
		}
	}
	if errors.Is(cause, chain.ErrSubmissionRejected) {
		return cause
	}
	return fmt.Errorf("%w: %v", chain.ErrSubmissionRejected, cause)
}

// Report summarizes one linker pass
type Report struct {
	Checked   int
	Linked    int
	Submitted int
	Failed    int
}

// RunOnce links new predictions to active markets, then submits pending links
func (l *Linker) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	markets, err := l.store.ActiveMarkets(ctx)
	if err != nil {
		return report, fmt.Errorf("loading active markets: %w", err)
	}

	preds, err := l.store.PredictionsToLink(ctx, l.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("loading predictions: %w", err)
	}
	for _, pc := range preds {
		links, err := l.Link(ctx, pc, markets)
		if err != nil {
			return report, err
		}
		if err := l.store.MarkLinkChecked(ctx, pc.ID); err != nil {
			return report, err
		}
		report.Checked++
		report.Linked += len(links)
	}

	if !l.CanSubmit() {
		return report, nil
	}

	pending, err := l.store.PendingSubmissions(ctx, l.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("loading pending submissions: %w", err)
	}
	for _, sub := range pending {
		if err := l.Submit(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			l.logger.Error().Err(err).Int64("market_prediction_id", sub.ID).Msg("Submission failed")
			continue
		}
		report.Submitted++
	}
	return report, nil
}
