package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Alias1177/TruthMesh/models"
)

const rawEventColumns = `id, source, source_id, title, text, url, metadata, content_hash, inserted_at`

// InsertIfNew stores an event unless one with the same content hash exists.
// It returns nil when the event is a duplicate.
func (db *DB) InsertIfNew(ctx context.Context, ev *models.IncomingEvent, contentHash string) (*models.RawEvent, error) {
	return insertEvent(ctx, db.DB, db.now(), ev, contentHash)
}

// Enqueue adds a queue entry for the event, or returns the existing one
func (db *DB) Enqueue(ctx context.Context, rawEventID int64) (*models.QueueEntry, error) {
	entry, err := enqueue(ctx, db.DB, db.now(), rawEventID)
	if err != nil || entry != nil {
		return entry, err
	}

	var existing models.QueueEntry
	err = db.GetContext(ctx, &existing, db.q(`
		SELECT id, raw_event_id, enqueued_at, processed, claim_token, claimed_until, attempts, last_error
		FROM signal_queue WHERE raw_event_id = ?`), rawEventID)
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// Ingest stores a new event and enqueues it in one transaction.
// Duplicates return nil without touching the queue.
func (db *DB) Ingest(ctx context.Context, ev *models.IncomingEvent, contentHash string) (*models.RawEvent, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := db.now()
	stored, err := insertEvent(ctx, tx, now, ev, contentHash)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if _, err := enqueue(ctx, tx, now, stored.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetRawEvent retrieves an event by id
func (db *DB) GetRawEvent(ctx context.Context, id int64) (*models.RawEvent, error) {
	var ev models.RawEvent
	err := db.GetContext(ctx, &ev, db.q(`SELECT `+rawEventColumns+` FROM raw_events WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

func insertEvent(ctx context.Context, q sqlx.ExtContext, now time.Time, ev *models.IncomingEvent, contentHash string) (*models.RawEvent, error) {
	if contentHash == "" {
		return nil, errors.New("event has no content hash")
	}

	stored := &models.RawEvent{
		Source:      ev.Source,
		SourceID:    optional(ev.SourceID),
		Title:       optional(ev.Title),
		Text:        ev.Text,
		URL:         optional(ev.URL),
		Metadata:    ev.Metadata,
		ContentHash: contentHash,
		InsertedAt:  now,
	}

	query := q.Rebind(`
		INSERT INTO raw_events (source, source_id, title, text, url, metadata, content_hash, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id`)

	err := sqlx.GetContext(ctx, q, &stored.ID, query,
		stored.Source, stored.SourceID, stored.Title, stored.Text, stored.URL,
		stored.Metadata, stored.ContentHash, stored.InsertedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("inserting raw event: %w", err)
	}
	return stored, nil
}

func enqueue(ctx context.Context, q sqlx.ExtContext, now time.Time, rawEventID int64) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{RawEventID: rawEventID, EnqueuedAt: now}

	query := q.Rebind(`
		INSERT INTO signal_queue (raw_event_id, enqueued_at, processed, attempts)
		VALUES (?, ?, FALSE, 0)
		ON CONFLICT (raw_event_id) DO NOTHING
		RETURNING id`)

	if err := sqlx.GetContext(ctx, q, &entry.ID, query, rawEventID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("enqueueing raw event %d: %w", rawEventID, err)
	}
	return entry, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
