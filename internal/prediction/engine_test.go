package prediction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/TruthMesh/internal/content"
	"github.com/Alias1177/TruthMesh/internal/testutil"
	"github.com/Alias1177/TruthMesh/models"
)

func TestWeight(t *testing.T) {
	tests := []struct {
		category string
		want     float64
	}{
		{models.CategoryExploit, 1.3},
		{models.CategoryBTCPrice, 1.1},
		{models.CategoryETHEcosystem, 1.0},
		{models.CategoryMacro, 0.9},
		{models.CategoryRegulation, 0.8},
		{models.CategoryOther, 0.7},
		{"Sports", 0.7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Weight(tt.category), tt.category)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		relevance  float64
		confidence float64
		category   string
		want       float64
	}{
		{"btc weighted", 0.8, 0.6, models.CategoryBTCPrice, 0.77},
		{"clamped high", 0.9, 0.9, models.CategoryExploit, 1},
		{"clamped low", -0.6, 0.2, models.CategoryETHEcosystem, 0},
		{"unknown category", 0.5, 0.5, "Sports", 0.35},
		{"neutral eth", 0.4, 0.6, models.CategoryETHEcosystem, 0.5},
		{"rounded", 0.123456, 0.123456, models.CategoryETHEcosystem, 0.1235},
		{"exploit clamps to one", 0.8, 0.9, models.CategoryExploit, 1},
		{"zero other", 0, 0, models.CategoryOther, 0},
		{"max exploit", 1, 1, models.CategoryExploit, 1},
		{"exact tie rounds up", 0.0625, 0, models.CategoryETHEcosystem, 0.0313},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.relevance, tt.confidence, tt.category)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRound4(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.123456, 0.1235},
		{0.99999, 1},
		{0.00004, 0},
		{1.0 / 3, 0.3333},
		{0.5, 0.5},
		{0.03125, 0.0313},
		{0.15625, 0.1563},
		{0.96875, 0.9688},
		{-0.03125, -0.0313},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round4(tt.in), fmt.Sprint(tt.in))
	}
}

func TestScoreHasFourDecimals(t *testing.T) {
	for r := 0.0; r <= 1.0; r += 0.0731 {
		for c := 0.0; c <= 1.0; c += 0.0917 {
			v := Score(r, c, models.CategoryMacro)
			assert.Equal(t, v, Round4(v))
		}
	}
}

func TestCreatePrediction(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	s := models.Signal{ID: 7, Category: models.CategoryMacro, Relevance: 0.6, Confidence: 0.8, Summary: "CPI cools"}

	p := CreatePrediction(s, now)
	assert.Equal(t, int64(7), p.SignalID)
	assert.Equal(t, models.CategoryMacro, p.Category)
	assert.Equal(t, "CPI cools", p.Summary)
	assert.InDelta(t, 0.63, p.PredictionValue, 1e-12)
	assert.Equal(t, time.UTC, p.CreatedAt.Location())
}

func TestPredictorRunOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	for i, text := range []string{"BTC ETF inflows", "Bridge exploited"} {
		ev, err := db.Ingest(ctx, &models.IncomingEvent{Source: "test", Text: text}, content.Fingerprint(text))
		require.NoError(t, err)
		_, err = db.InsertSignal(ctx, &models.Signal{
			RawEventID: ev.ID,
			Category:   []string{models.CategoryBTCPrice, models.CategoryExploit}[i],
			Relevance:  0.8,
			Confidence: 0.6,
			Summary:    text,
		})
		require.NoError(t, err)
	}

	p := NewPredictor(db, 10)
	created, err := p.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.InDelta(t, 0.77, created[0].PredictionValue, 1e-12)
	assert.InDelta(t, 0.91, created[1].PredictionValue, 1e-12)

	again, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}
