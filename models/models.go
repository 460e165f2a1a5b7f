package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Category labels produced by the classifier
const (
	CategoryBTCPrice     = "BTC_price"
	CategoryETHEcosystem = "ETH_ecosystem"
	CategoryMacro        = "Macro"
	CategoryRegulation   = "Regulation"
	CategoryExploit      = "Exploit"
	CategoryOther        = "Other"
)

// Market outcomes for binary markets
const (
	OutcomeYes = "Yes"
	OutcomeNo  = "No"
)

// MarketState mirrors the PredictionMarket contract enum
type MarketState string

const (
	MarketOpen        MarketState = "Open"
	MarketClosed      MarketState = "Closed"
	MarketProvisional MarketState = "Provisional"
	MarketDisputed    MarketState = "Disputed"
	MarketFinalized   MarketState = "Finalized"
	MarketCancelled   MarketState = "Cancelled"
)

// marketStates is indexed by the contract's uint8 state value
var marketStates = []MarketState{
	MarketOpen, MarketClosed, MarketProvisional, MarketDisputed, MarketFinalized, MarketCancelled,
}

// MarketStateFromOrdinal converts the on-chain enum value to a MarketState
func MarketStateFromOrdinal(v uint8) (MarketState, error) {
	if int(v) >= len(marketStates) {
		return "", fmt.Errorf("unknown market state %d", v)
	}
	return marketStates[v], nil
}

// ModelMetadataVersion is bumped whenever ModelMetadata changes shape
const ModelMetadataVersion = 1

// Metadata is a free-form JSON object attached to raw events by their source
type Metadata map[string]any

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src any) error {
	return scanJSON(src, m)
}

// ModelMetadata records which models produced a signal
type ModelMetadata struct {
	SchemaVersion  int    `json:"schema_version"`
	ReasoningModel string `json:"reasoning_model"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	MarketAware    bool   `json:"market_aware,omitempty"`
}

// Value implements driver.Valuer
func (m ModelMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *ModelMetadata) Scan(src any) error {
	return scanJSON(src, m)
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported JSON column type")
	}
}

// IncomingEvent is what an ingest source hands to the event store before normalization
type IncomingEvent struct {
	Source   string
	SourceID string
	Title    string
	Text     string
	URL      string
	Metadata Metadata
}

// RawEvent is a deduplicated unit of ingested text
type RawEvent struct {
	ID          int64     `json:"id" db:"id"`
	Source      string    `json:"source" db:"source"`
	SourceID    *string   `json:"source_id,omitempty" db:"source_id"`
	Title       *string   `json:"title,omitempty" db:"title"`
	Text        string    `json:"text" db:"text"`
	URL         *string   `json:"url,omitempty" db:"url"`
	Metadata    Metadata  `json:"metadata,omitempty" db:"metadata"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	InsertedAt  time.Time `json:"inserted_at" db:"inserted_at"`
}

// QueueEntry is one pending unit of signal extraction work
type QueueEntry struct {
	ID           int64      `json:"id" db:"id"`
	RawEventID   int64      `json:"raw_event_id" db:"raw_event_id"`
	EnqueuedAt   time.Time  `json:"enqueued_at" db:"enqueued_at"`
	Processed    bool       `json:"processed" db:"processed"`
	ClaimToken   *string    `json:"-" db:"claim_token"`
	ClaimedUntil *time.Time `json:"-" db:"claimed_until"`
	Attempts     int        `json:"attempts" db:"attempts"`
	LastError    *string    `json:"last_error,omitempty" db:"last_error"`
}

// ClaimedEntry is a queue entry reserved by one claimant, joined with its event text
type ClaimedEntry struct {
	QueueID    int64     `db:"queue_id"`
	RawEventID int64     `db:"raw_event_id"`
	EnqueuedAt time.Time `db:"enqueued_at"`
	Text       string    `db:"text"`
	ClaimToken string    `db:"claim_token"`
}

// Signal is a classified, scored and reasoned-about RawEvent
type Signal struct {
	ID            int64         `json:"id" db:"id"`
	RawEventID    int64         `json:"raw_event_id" db:"raw_event_id"`
	Category      string        `json:"category" db:"category"`
	Relevance     float64       `json:"relevance" db:"relevance"`
	Confidence    float64       `json:"confidence" db:"confidence"`
	Summary       string        `json:"summary" db:"summary"`
	Reasoning     string        `json:"reasoning" db:"reasoning"`
	ModelMetadata ModelMetadata `json:"model_metadata" db:"model_metadata"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// Prediction is a scalar forecast derived from a Signal
type Prediction struct {
	ID              int64     `json:"id" db:"id"`
	SignalID        int64     `json:"signal_id" db:"signal_id"`
	Category        string    `json:"category" db:"category"`
	Summary         string    `json:"summary" db:"summary"`
	PredictionValue float64   `json:"prediction_value" db:"prediction_value"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// PredictionContext carries what the market linker needs beyond the prediction row
type PredictionContext struct {
	Prediction
	Confidence float64 `db:"confidence"`
	SourceText string  `db:"source_text"`
}

// Market is the local projection of an on-chain binary market
type Market struct {
	ID               int64       `json:"id" db:"id"`
	ContractMarketID string      `json:"contract_market_id" db:"contract_market_id"`
	Question         string      `json:"question" db:"question"`
	LockTimestamp    time.Time   `json:"lock_timestamp" db:"lock_timestamp"`
	ResolveTimestamp *time.Time  `json:"resolve_timestamp,omitempty" db:"resolve_timestamp"`
	State            MarketState `json:"state" db:"state"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// MarketPrediction links a Prediction to a Market and tracks its submission
type MarketPrediction struct {
	ID               int64     `json:"id" db:"id"`
	MarketID         int64     `json:"market_id" db:"market_id"`
	PredictionID     int64     `json:"prediction_id" db:"prediction_id"`
	MarketOutcome    string    `json:"market_outcome" db:"market_outcome"`
	Confidence       float64   `json:"confidence" db:"confidence"`
	SubmittedToChain bool      `json:"submitted_to_chain" db:"submitted_to_chain"`
	ChainTxHash      *string   `json:"chain_tx_hash,omitempty" db:"chain_tx_hash"`
	ChainTxRaw       *string   `json:"-" db:"chain_tx_raw"`
	SubmissionError  *string   `json:"submission_error,omitempty" db:"submission_error"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Stats summarizes the stored collections for the read API
type Stats struct {
	RawEvents         int64            `json:"raw_events"`
	PendingQueue      int64            `json:"pending_queue"`
	Signals           int64            `json:"signals"`
	Predictions       int64            `json:"predictions"`
	Markets           int64            `json:"markets"`
	MarketPredictions int64            `json:"market_predictions"`
	Submitted         int64            `json:"submitted"`
	SignalsByCategory map[string]int64 `json:"signals_by_category"`
}

// PendingSubmission is an unsubmitted MarketPrediction with what signing needs
type PendingSubmission struct {
	MarketPrediction
	ContractMarketID string  `db:"contract_market_id"`
	PredictionValue  float64 `db:"prediction_value"`
}
