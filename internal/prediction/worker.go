package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/models"
)

// DefaultBatchSize bounds how many signals one run converts
const DefaultBatchSize = 100

// Store is what the predictor needs from persistence
type Store interface {
	SignalsWithoutPrediction(ctx context.Context, limit int) ([]models.Signal, error)
	InsertPrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error)
}

// Predictor persists a prediction for every signal that lacks one
type Predictor struct {
	store     Store
	batchSize int
	logger    zerolog.Logger
}

// NewPredictor creates a predictor; batchSize <= 0 selects the default
func NewPredictor(store Store, batchSize int) *Predictor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Predictor{
		store:     store,
		batchSize: batchSize,
		logger:    log.With().Str("component", "predictor").Logger(),
	}
}

// RunOnce converts one batch of signals and returns the predictions it created
func (p *Predictor) RunOnce(ctx context.Context) ([]models.Prediction, error) {
	signals, err := p.store.SignalsWithoutPrediction(ctx, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("loading signals: %w", err)
	}

	var created []models.Prediction
	for _, s := range signals {
		pred := CreatePrediction(s, time.Now())
		stored, err := p.store.InsertPrediction(ctx, &pred)
		if err != nil {
			return created, err
		}
		if stored == nil {
			// another run got there first
			continue
		}
		created = append(created, *stored)
		p.logger.Info().
			Int64("signal_id", s.ID).
			Int64("prediction_id", stored.ID).
			Str("category", s.Category).
			Float64("value", stored.PredictionValue).
			Msg("Prediction created")
	}
	return created, nil
}
