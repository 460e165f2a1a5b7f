package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Alias1177/TruthMesh/models"
)

const (
	marketColumns           = `id, contract_market_id, question, lock_timestamp, resolve_timestamp, state, updated_at`
	marketPredictionColumns = `id, market_id, prediction_id, market_outcome, confidence, submitted_to_chain, chain_tx_hash, chain_tx_raw, submission_error, created_at`
)

// UpsertMarket inserts a market or refreshes the stored copy by contract market id
func (db *DB) UpsertMarket(ctx context.Context, m *models.Market) (*models.Market, error) {
	stored := *m
	stored.UpdatedAt = db.now()
	stored.LockTimestamp = stored.LockTimestamp.UTC()
	if stored.ResolveTimestamp != nil {
		t := stored.ResolveTimestamp.UTC()
		stored.ResolveTimestamp = &t
	}

	err := db.GetContext(ctx, &stored.ID, db.q(`
		INSERT INTO markets (contract_market_id, question, lock_timestamp, resolve_timestamp, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (contract_market_id) DO UPDATE SET
			question = excluded.question,
			lock_timestamp = excluded.lock_timestamp,
			resolve_timestamp = excluded.resolve_timestamp,
			state = excluded.state,
			updated_at = excluded.updated_at
		RETURNING id`),
		stored.ContractMarketID, stored.Question, stored.LockTimestamp, stored.ResolveTimestamp,
		string(stored.State), stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting market %s: %w", m.ContractMarketID, err)
	}
	return &stored, nil
}

// GetMarket retrieves a market by id
func (db *DB) GetMarket(ctx context.Context, id int64) (*models.Market, error) {
	var m models.Market
	if err := db.GetContext(ctx, &m, db.q(`SELECT `+marketColumns+` FROM markets WHERE id = ?`), id); err != nil {
		return nil, noRows(err)
	}
	return &m, nil
}

// ActiveMarkets returns markets that still accept predictions
func (db *DB) ActiveMarkets(ctx context.Context) ([]models.Market, error) {
	var markets []models.Market
	err := db.SelectContext(ctx, &markets, db.q(`
		SELECT `+marketColumns+` FROM markets
		WHERE state IN (?, ?)
		ORDER BY id`), string(models.MarketOpen), string(models.MarketClosed))
	return markets, err
}

// LinkMarketPrediction stores a market link. When the pair is already linked the
// existing row is returned and created is false.
func (db *DB) LinkMarketPrediction(ctx context.Context, mp *models.MarketPrediction) (link *models.MarketPrediction, created bool, err error) {
	stored := *mp
	stored.CreatedAt = db.now()
	stored.SubmittedToChain = false
	stored.ChainTxHash = nil
	stored.ChainTxRaw = nil

	err = db.GetContext(ctx, &stored.ID, db.q(`
		INSERT INTO market_predictions (market_id, prediction_id, market_outcome, confidence, submitted_to_chain, created_at)
		VALUES (?, ?, ?, ?, FALSE, ?)
		ON CONFLICT (market_id, prediction_id) DO NOTHING
		RETURNING id`),
		stored.MarketID, stored.PredictionID, stored.MarketOutcome, stored.Confidence, stored.CreatedAt,
	)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("linking prediction %d to market %d: %w", mp.PredictionID, mp.MarketID, err)
	}

	var existing models.MarketPrediction
	err = db.GetContext(ctx, &existing, db.q(`
		SELECT `+marketPredictionColumns+` FROM market_predictions
		WHERE market_id = ? AND prediction_id = ?`), mp.MarketID, mp.PredictionID)
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// GetMarketPrediction retrieves a market link by id
func (db *DB) GetMarketPrediction(ctx context.Context, id int64) (*models.MarketPrediction, error) {
	var mp models.MarketPrediction
	if err := db.GetContext(ctx, &mp, db.q(`SELECT `+marketPredictionColumns+` FROM market_predictions WHERE id = ?`), id); err != nil {
		return nil, noRows(err)
	}
	return &mp, nil
}

// PendingSubmissions returns unsubmitted, unrejected links in creation order
func (db *DB) PendingSubmissions(ctx context.Context, limit int) ([]models.PendingSubmission, error) {
	var out []models.PendingSubmission
	err := db.SelectContext(ctx, &out, db.q(`
		SELECT mp.id, mp.market_id, mp.prediction_id, mp.market_outcome, mp.confidence,
		       mp.submitted_to_chain, mp.chain_tx_hash, mp.chain_tx_raw, mp.submission_error, mp.created_at,
		       m.contract_market_id, p.prediction_value
		FROM market_predictions mp
		JOIN markets m ON m.id = mp.market_id
		JOIN predictions p ON p.id = mp.prediction_id
		WHERE mp.submitted_to_chain = FALSE AND mp.submission_error IS NULL
		ORDER BY mp.id
		LIMIT ?`), limit)
	return out, err
}

// SetPendingTx records a signed transaction for a link before it is broadcast.
// rawTx is the hex encoded transaction so it can be sent again unchanged.
func (db *DB) SetPendingTx(ctx context.Context, marketPredictionID int64, txHash, rawTx string) error {
	_, err := db.ExecContext(ctx, db.q(`
		UPDATE market_predictions SET chain_tx_hash = ?, chain_tx_raw = ?
		WHERE id = ? AND submitted_to_chain = FALSE`), txHash, sql.NullString{String: rawTx, Valid: rawTx != ""}, marketPredictionID)
	return err
}

// ClearPendingTx forgets a transaction that never made it on chain
func (db *DB) ClearPendingTx(ctx context.Context, marketPredictionID int64) error {
	_, err := db.ExecContext(ctx, db.q(`
		UPDATE market_predictions SET chain_tx_hash = NULL, chain_tx_raw = NULL
		WHERE id = ? AND submitted_to_chain = FALSE`), marketPredictionID)
	return err
}

// MarkSubmitted flags a link as confirmed on chain with its transaction hash
func (db *DB) MarkSubmitted(ctx context.Context, marketPredictionID int64, txHash string) error {
	_, err := db.ExecContext(ctx, db.q(`
		UPDATE market_predictions SET submitted_to_chain = TRUE, chain_tx_hash = ?, chain_tx_raw = NULL
		WHERE id = ? AND submitted_to_chain = FALSE`), txHash, marketPredictionID)
	return err
}

// MarkRejected records why the contract refused a link's submission. Rejected
// links are not offered for submission again.
func (db *DB) MarkRejected(ctx context.Context, marketPredictionID int64, reason string) error {
	_, err := db.ExecContext(ctx, db.q(`
		UPDATE market_predictions SET submission_error = ?, chain_tx_hash = NULL, chain_tx_raw = NULL
		WHERE id = ? AND submitted_to_chain = FALSE`), reason, marketPredictionID)
	return err
}

// ConfirmedTxForPrediction returns the transaction that already carried the
// prediction on chain, or "" if there is none
func (db *DB) ConfirmedTxForPrediction(ctx context.Context, predictionID int64) (string, error) {
	var hash string
	err := db.GetContext(ctx, &hash, db.q(`
		SELECT chain_tx_hash FROM market_predictions
		WHERE prediction_id = ? AND submitted_to_chain = TRUE AND chain_tx_hash IS NOT NULL
		ORDER BY id
		LIMIT 1`), predictionID)
	if err != nil {
		return "", noRows(err)
	}
	return hash, nil
}
