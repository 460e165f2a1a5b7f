package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Alias1177/TruthMesh/models"
)

const signalColumns = `id, raw_event_id, category, relevance, confidence, summary, reasoning, model_metadata, created_at`

// SignalExists reports whether a signal was already extracted for the event
func (db *DB) SignalExists(ctx context.Context, rawEventID int64) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, db.q(`SELECT COUNT(*) FROM ai_signals WHERE raw_event_id = ?`), rawEventID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertSignal stores a signal. It returns nil if the event already has one.
func (db *DB) InsertSignal(ctx context.Context, s *models.Signal) (*models.Signal, error) {
	stored := *s
	stored.CreatedAt = db.now()
	if stored.ModelMetadata.SchemaVersion == 0 {
		stored.ModelMetadata.SchemaVersion = models.ModelMetadataVersion
	}

	err := db.GetContext(ctx, &stored.ID, db.q(`
		INSERT INTO ai_signals (raw_event_id, category, relevance, confidence, summary, reasoning, model_metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raw_event_id) DO NOTHING
		RETURNING id`),
		stored.RawEventID, stored.Category, stored.Relevance, stored.Confidence,
		stored.Summary, stored.Reasoning, stored.ModelMetadata, stored.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("inserting signal for raw event %d: %w", s.RawEventID, err)
	}
	return &stored, nil
}

// GetSignal retrieves a signal by id
func (db *DB) GetSignal(ctx context.Context, id int64) (*models.Signal, error) {
	var s models.Signal
	if err := db.GetContext(ctx, &s, db.q(`SELECT `+signalColumns+` FROM ai_signals WHERE id = ?`), id); err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}

// GetSignalByRawEvent retrieves the signal extracted from an event
func (db *DB) GetSignalByRawEvent(ctx context.Context, rawEventID int64) (*models.Signal, error) {
	var s models.Signal
	if err := db.GetContext(ctx, &s, db.q(`SELECT `+signalColumns+` FROM ai_signals WHERE raw_event_id = ?`), rawEventID); err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}

// SignalsWithoutPrediction returns the oldest signals that have no prediction yet
func (db *DB) SignalsWithoutPrediction(ctx context.Context, limit int) ([]models.Signal, error) {
	var signals []models.Signal
	err := db.SelectContext(ctx, &signals, db.q(`
		SELECT s.id, s.raw_event_id, s.category, s.relevance, s.confidence, s.summary,
		       s.reasoning, s.model_metadata, s.created_at
		FROM ai_signals s
		LEFT JOIN predictions p ON p.signal_id = s.id
		WHERE p.id IS NULL
		ORDER BY s.id
		LIMIT ?`), limit)
	return signals, err
}
