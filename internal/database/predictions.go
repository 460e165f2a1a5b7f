package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Alias1177/TruthMesh/models"
)

const predictionColumns = `id, signal_id, category, summary, prediction_value, created_at`

// InsertPrediction stores a prediction. It returns nil if the signal already has one.
func (db *DB) InsertPrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	stored := *p
	stored.CreatedAt = db.now()

	err := db.GetContext(ctx, &stored.ID, db.q(`
		INSERT INTO predictions (signal_id, category, summary, prediction_value, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (signal_id) DO NOTHING
		RETURNING id`),
		stored.SignalID, stored.Category, stored.Summary, stored.PredictionValue, stored.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("inserting prediction for signal %d: %w", p.SignalID, err)
	}
	return &stored, nil
}

// GetPrediction retrieves a prediction by id
func (db *DB) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	var p models.Prediction
	if err := db.GetContext(ctx, &p, db.q(`SELECT `+predictionColumns+` FROM predictions WHERE id = ?`), id); err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

// GetPredictionBySignal retrieves the prediction derived from a signal
func (db *DB) GetPredictionBySignal(ctx context.Context, signalID int64) (*models.Prediction, error) {
	var p models.Prediction
	if err := db.GetContext(ctx, &p, db.q(`SELECT `+predictionColumns+` FROM predictions WHERE signal_id = ?`), signalID); err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

const predictionContextQuery = `
	SELECT p.id, p.signal_id, p.category, p.summary, p.prediction_value, p.created_at,
	       s.confidence, r.text AS source_text
	FROM predictions p
	JOIN ai_signals s ON s.id = p.signal_id
	JOIN raw_events r ON r.id = s.raw_event_id`

// GetPredictionContext loads a prediction together with its signal confidence and source text
func (db *DB) GetPredictionContext(ctx context.Context, predictionID int64) (*models.PredictionContext, error) {
	var pc models.PredictionContext
	if err := db.GetContext(ctx, &pc, db.q(predictionContextQuery+` WHERE p.id = ?`), predictionID); err != nil {
		return nil, noRows(err)
	}
	return &pc, nil
}

// PredictionsToLink returns predictions the market linker has not looked at yet
func (db *DB) PredictionsToLink(ctx context.Context, limit int) ([]models.PredictionContext, error) {
	var out []models.PredictionContext
	err := db.SelectContext(ctx, &out, db.q(predictionContextQuery+`
		WHERE p.link_checked_at IS NULL
		ORDER BY p.id
		LIMIT ?`), limit)
	return out, err
}

// MarkLinkChecked records that the linker has matched a prediction against the active markets
func (db *DB) MarkLinkChecked(ctx context.Context, predictionID int64) error {
	_, err := db.ExecContext(ctx, db.q(`UPDATE predictions SET link_checked_at = ? WHERE id = ?`), db.now(), predictionID)
	return err
}
