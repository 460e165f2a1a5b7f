// Package prediction turns signals into scalar prediction values.
package prediction

import (
	"math"
	"math/big"
	"time"

	"github.com/Alias1177/TruthMesh/models"
)

// weights scale the raw score by how much a category tends to move markets
var weights = map[string]float64{
	models.CategoryExploit:      1.3,
	models.CategoryBTCPrice:     1.1,
	models.CategoryETHEcosystem: 1.0,
	models.CategoryMacro:        0.9,
	models.CategoryRegulation:   0.8,
	models.CategoryOther:        0.7,
}

// DefaultWeight applies to categories without their own weight
const DefaultWeight = 0.7

// Weight returns the multiplier for a category
func Weight(category string) float64 {
	if w, ok := weights[category]; ok {
		return w
	}
	return DefaultWeight
}

// Score combines relevance and confidence, applies the category weight and
// clamps the result to [0,1] rounded to four decimals
func Score(relevance, confidence float64, category string) float64 {
	raw := 0.5*relevance + 0.5*confidence
	return Round4(clamp(raw * Weight(category)))
}

// Round4 rounds to four decimals using the exact binary value of v. Exact
// ties round away from zero, so 0.03125 becomes 0.0313.
func Round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v == 0 {
		return v
	}
	// 256 bits hold v*1e4+0.5 exactly
	x := new(big.Float).SetPrec(256).SetFloat64(math.Abs(v))
	x.Mul(x, big.NewFloat(1e4))
	x.Add(x, big.NewFloat(0.5))
	n, _ := x.Int(nil)

	f, _ := new(big.Float).SetInt(n).Float64()
	r := f / 1e4
	if r == 0 {
		return 0
	}
	return math.Copysign(r, v)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// CreatePrediction derives a prediction from a signal
func CreatePrediction(s models.Signal, now time.Time) models.Prediction {
	return models.Prediction{
		SignalID:        s.ID,
		Category:        s.Category,
		Summary:         s.Summary,
		PredictionValue: Score(s.Relevance, s.Confidence, s.Category),
		CreatedAt:       now.UTC(),
	}
}
