package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Alias1177/TruthMesh/models"
)

// ClaimBatch reserves up to limit unprocessed, unclaimed entries in FIFO order
// for ttl. A claim that is not marked processed or released before it expires
// becomes claimable again.
func (db *DB) ClaimBatch(ctx context.Context, limit int, ttl time.Duration) ([]models.ClaimedEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := db.now()
	token := uuid.NewString()

	lockClause := ""
	if db.driver == DriverPostgres {
		lockClause = " FOR UPDATE SKIP LOCKED"
	}

	claim := db.q(`
		UPDATE signal_queue
		SET claim_token = ?, claimed_until = ?
		WHERE id IN (
			SELECT id FROM signal_queue
			WHERE processed = FALSE AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY enqueued_at, id
			LIMIT ?` + lockClause + `
		)`)

	res, err := db.ExecContext(ctx, claim, token, now.Add(ttl), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming queue entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	var entries []models.ClaimedEntry
	err = db.SelectContext(ctx, &entries, db.q(`
		SELECT q.id AS queue_id, q.raw_event_id, q.enqueued_at, r.text, q.claim_token
		FROM signal_queue q
		JOIN raw_events r ON r.id = q.raw_event_id
		WHERE q.claim_token = ? AND q.processed = FALSE
		ORDER BY q.enqueued_at, q.id`), token)
	if err != nil {
		return nil, fmt.Errorf("loading claimed entries: %w", err)
	}
	return entries, nil
}

// ClaimOne reserves the oldest claimable entry, or returns nil if there is none
func (db *DB) ClaimOne(ctx context.Context, ttl time.Duration) (*models.ClaimedEntry, error) {
	entries, err := db.ClaimBatch(ctx, 1, ttl)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// MarkProcessed flags an entry as done. It never reverts.
func (db *DB) MarkProcessed(ctx context.Context, queueID int64) error {
	_, err := db.ExecContext(ctx, db.q(`
		UPDATE signal_queue
		SET processed = TRUE, claim_token = NULL, claimed_until = NULL
		WHERE id = ?`), queueID)
	return err
}

// ReleaseClaim gives a claimed entry back to the queue. The entry becomes
// claimable after retryAfter. A non-nil cause counts as a failed attempt.
func (db *DB) ReleaseClaim(ctx context.Context, entry models.ClaimedEntry, retryAfter time.Duration, cause error) error {
	notBefore := db.now().Add(retryAfter)

	if cause == nil {
		_, err := db.ExecContext(ctx, db.q(`
			UPDATE signal_queue
			SET claim_token = NULL, claimed_until = ?
			WHERE id = ? AND claim_token = ? AND processed = FALSE`),
			notBefore, entry.QueueID, entry.ClaimToken)
		return err
	}

	_, err := db.ExecContext(ctx, db.q(`
		UPDATE signal_queue
		SET claim_token = NULL, claimed_until = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND claim_token = ? AND processed = FALSE`),
		notBefore, cause.Error(), entry.QueueID, entry.ClaimToken)
	return err
}

// GetQueueEntry retrieves a queue entry by id
func (db *DB) GetQueueEntry(ctx context.Context, queueID int64) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := db.GetContext(ctx, &entry, db.q(`
		SELECT id, raw_event_id, enqueued_at, processed, claim_token, claimed_until, attempts, last_error
		FROM signal_queue WHERE id = ?`), queueID)
	if err != nil {
		return nil, noRows(err)
	}
	return &entry, nil
}

// PendingCount returns how many entries are not yet processed
func (db *DB) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM signal_queue WHERE processed = FALSE`)
	return n, err
}
