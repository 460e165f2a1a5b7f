// Package ingest pulls text from external sources into the event store.
package ingest

import (
	"context"

	"github.com/Alias1177/TruthMesh/internal/content"
	"github.com/Alias1177/TruthMesh/models"
)

// Source produces incoming events from one external feed
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.IncomingEvent, error)
}

// EventStore persists events and queues them for signal extraction
type EventStore interface {
	Ingest(ctx context.Context, ev *models.IncomingEvent, contentHash string) (*models.RawEvent, error)
}

// Ingestor normalizes events and hands them to the store
type Ingestor struct {
	store EventStore
}

// NewIngestor creates an ingestor
func NewIngestor(store EventStore) *Ingestor {
	return &Ingestor{store: store}
}

// Ingest stores one event. It returns nil when the text is empty after
// normalization or when the same content was already ingested.
func (i *Ingestor) Ingest(ctx context.Context, ev models.IncomingEvent) (*models.RawEvent, error) {
	hash := content.Prepare(&ev)
	if hash == "" {
		return nil, nil
	}
	return i.store.Ingest(ctx, &ev, hash)
}
