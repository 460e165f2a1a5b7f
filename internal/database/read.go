package database

import (
	"context"

	"github.com/Alias1177/TruthMesh/models"
)

// Page bounds a listing query
type Page struct {
	Limit  int
	Offset int
}

// ListRawEvents returns events newest first
func (db *DB) ListRawEvents(ctx context.Context, p Page) ([]models.RawEvent, error) {
	out := []models.RawEvent{}
	err := db.SelectContext(ctx, &out, db.q(`SELECT `+rawEventColumns+` FROM raw_events ORDER BY id DESC LIMIT ? OFFSET ?`), p.Limit, p.Offset)
	return out, err
}

// ListSignals returns signals newest first, optionally filtered by category
func (db *DB) ListSignals(ctx context.Context, category string, p Page) ([]models.Signal, error) {
	out := []models.Signal{}
	if category != "" {
		err := db.SelectContext(ctx, &out, db.q(`SELECT `+signalColumns+` FROM ai_signals WHERE category = ? ORDER BY id DESC LIMIT ? OFFSET ?`), category, p.Limit, p.Offset)
		return out, err
	}
	err := db.SelectContext(ctx, &out, db.q(`SELECT `+signalColumns+` FROM ai_signals ORDER BY id DESC LIMIT ? OFFSET ?`), p.Limit, p.Offset)
	return out, err
}

// ListPredictions returns predictions newest first
func (db *DB) ListPredictions(ctx context.Context, p Page) ([]models.Prediction, error) {
	out := []models.Prediction{}
	err := db.SelectContext(ctx, &out, db.q(`SELECT `+predictionColumns+` FROM predictions ORDER BY id DESC LIMIT ? OFFSET ?`), p.Limit, p.Offset)
	return out, err
}

// ListMarkets returns markets by id
func (db *DB) ListMarkets(ctx context.Context, p Page) ([]models.Market, error) {
	out := []models.Market{}
	err := db.SelectContext(ctx, &out, db.q(`SELECT `+marketColumns+` FROM markets ORDER BY id LIMIT ? OFFSET ?`), p.Limit, p.Offset)
	return out, err
}

// ListMarketPredictions returns market links newest first
func (db *DB) ListMarketPredictions(ctx context.Context, p Page) ([]models.MarketPrediction, error) {
	out := []models.MarketPrediction{}
	err := db.SelectContext(ctx, &out, db.q(`SELECT `+marketPredictionColumns+` FROM market_predictions ORDER BY id DESC LIMIT ? OFFSET ?`), p.Limit, p.Offset)
	return out, err
}

// Stats counts the stored collections
func (db *DB) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{SignalsByCategory: map[string]int64{}}

	counts := []struct {
		dst   *int64
		query string
	}{
		{&stats.RawEvents, `SELECT COUNT(*) FROM raw_events`},
		{&stats.PendingQueue, `SELECT COUNT(*) FROM signal_queue WHERE processed = FALSE`},
		{&stats.Signals, `SELECT COUNT(*) FROM ai_signals`},
		{&stats.Predictions, `SELECT COUNT(*) FROM predictions`},
		{&stats.Markets, `SELECT COUNT(*) FROM markets`},
		{&stats.MarketPredictions, `SELECT COUNT(*) FROM market_predictions`},
		{&stats.Submitted, `SELECT COUNT(*) FROM market_predictions WHERE submitted_to_chain = TRUE`},
	}
	for _, c := range counts {
		if err := db.GetContext(ctx, c.dst, c.query); err != nil {
			return nil, err
		}
	}

	var rows []struct {
		Category string `db:"category"`
		Count    int64  `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT category, COUNT(*) AS n FROM ai_signals GROUP BY category`); err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.SignalsByCategory[r.Category] = r.Count
	}
	return stats, nil
}
