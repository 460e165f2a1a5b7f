package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/ingest"
	"github.com/Alias1177/TruthMesh/internal/market"
	"github.com/Alias1177/TruthMesh/models"
)

// Poller fetches all ingest sources once
type Poller interface {
	Poll(ctx context.Context) []ingest.Result
}

// EntryProcessor handles one queue entry per call
type EntryProcessor interface {
	ProcessOne(ctx context.Context) (bool, error)
}

// PredictionRunner turns new signals into predictions
type PredictionRunner interface {
	RunOnce(ctx context.Context) ([]models.Prediction, error)
}

// MarketSyncer refreshes the local copy of on-chain markets
type MarketSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// MarketLinker links predictions to markets and submits them
type MarketLinker interface {
	RunOnce(ctx context.Context) (market.Report, error)
}

// Workflow runs every stage once, in pipeline order. Nil stages are skipped.
type Workflow struct {
	Poller    Poller
	Events    []models.IncomingEvent
	Ingestor  *ingest.Ingestor
	Processor EntryProcessor
	Predictor PredictionRunner
	Syncer    MarketSyncer
	Linker    MarketLinker
	// MaxEntries bounds the drain step; zero drains until the queue is empty
	MaxEntries int
}

// WorkflowReport summarizes a workflow run
type WorkflowReport struct {
	Ingested      int
	Processed     int
	FailedEntries int
	Predictions   int
	MarketsSynced int
	Market        market.Report
}

// Run executes the workflow. Per-entry processing failures are counted and
// the drain continues; any other stage error aborts the run.
func (w *Workflow) Run(ctx context.Context) (WorkflowReport, error) {
	var report WorkflowReport
	logger := log.With().Str("component", "workflow").Logger()

	if err := w.ingest(ctx, &report, logger); err != nil {
		return report, err
	}

	if w.Processor != nil {
		for w.MaxEntries == 0 || report.Processed+report.FailedEntries < w.MaxEntries {
			found, err := w.Processor.ProcessOne(ctx)
			if !found {
				if err != nil {
					return report, fmt.Errorf("draining queue: %w", err)
				}
				break
			}
			if err != nil {
				report.FailedEntries++
				continue
			}
			report.Processed++
		}
		logger.Info().Int("processed", report.Processed).Int("failed", report.FailedEntries).Msg("Queue drained")
	}

	if w.Predictor != nil {
		preds, err := w.Predictor.RunOnce(ctx)
		if err != nil {
			return report, fmt.Errorf("creating predictions: %w", err)
		}
		report.Predictions = len(preds)
	}

	if w.Syncer != nil {
		n, err := w.Syncer.Sync(ctx)
		if err != nil {
			return report, fmt.Errorf("syncing markets: %w", err)
		}
		report.MarketsSynced = n
	}

	if w.Linker != nil {
		mr, err := w.Linker.RunOnce(ctx)
		report.Market = mr
		if err != nil {
			return report, fmt.Errorf("linking markets: %w", err)
		}
	}

	logger.Info().
		Int("ingested", report.Ingested).
		Int("processed", report.Processed).
		Int("predictions", report.Predictions).
		Int("linked", report.Market.Linked).
		Int("submitted", report.Market.Submitted).
		Msg("Workflow finished")
	return report, nil
}

func (w *Workflow) ingest(ctx context.Context, report *WorkflowReport, logger zerolog.Logger) error {
	if w.Poller != nil {
		for _, res := range w.Poller.Poll(ctx) {
			report.Ingested += res.Inserted
		}
	}
	if w.Ingestor == nil {
		return nil
	}
	for _, ev := range w.Events {
		stored, err := w.Ingestor.Ingest(ctx, ev)
		if err != nil {
			return fmt.Errorf("ingesting event: %w", err)
		}
		if stored != nil {
			report.Ingested++
		}
	}
	logger.Debug().Int("ingested", report.Ingested).Msg("Ingest step done")
	return nil
}
