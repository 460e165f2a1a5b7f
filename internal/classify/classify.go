// Package classify assigns a category to text by cosine similarity between its
// embedding and a fixed set of category centers.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/models"
)

// DefaultMinRelevance lets any similarity pick a category
const DefaultMinRelevance = -1.0

// Center describes one category by a representative text
type Center struct {
	Category string
	Text     string
}

// DefaultCenters lists the categories in the order ties are broken
var DefaultCenters = []Center{
	{models.CategoryBTCPrice, "Bitcoin price movement, market volatility, ETF flows, macro BTC trends"},
	{models.CategoryETHEcosystem, "Ethereum L2, rollups, staking, MEV, dev updates, protocols"},
	{models.CategoryMacro, "inflation, CPI, Fed interest rates, macro economy, geopolitical events"},
	{models.CategoryRegulation, "crypto regulation, government policy, SEC, bans, compliance"},
	{models.CategoryExploit, "hacks, exploits, vulnerabilities, protocol failures"},
}

// Result is the outcome of classifying one text
type Result struct {
	Category  string
	Relevance float64
}

// Classifier maps text to the closest category center
type Classifier struct {
	embedder     models.Embedder
	centers      []Center
	minRelevance float64
	logger       zerolog.Logger

	mu      sync.Mutex
	vectors [][]float32
}

// Option configures a Classifier
type Option func(*Classifier)

// WithCenters replaces the default category centers
func WithCenters(centers []Center) Option {
	return func(c *Classifier) { c.centers = centers }
}

// WithMinRelevance sets the similarity a category must exceed to be chosen
func WithMinRelevance(v float64) Option {
	return func(c *Classifier) { c.minRelevance = v }
}

// New creates a classifier
func New(embedder models.Embedder, opts ...Option) *Classifier {
	c := &Classifier{
		embedder:     embedder,
		centers:      DefaultCenters,
		minRelevance: DefaultMinRelevance,
		logger:       log.With().Str("component", "classifier").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify embeds text once and returns the best scoring category. The first
// category wins ties. When no category scores above the floor the result is
// Other, still carrying the best similarity seen.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	vectors, err := c.centerVectors(ctx)
	if err != nil {
		return Result{}, err
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("embedding text: %w", err)
	}

	best := Result{Category: models.CategoryOther, Relevance: math.Inf(-1)}
	bestSeen := math.Inf(-1)
	for i, center := range c.centers {
		score := CosineSimilarity(vec, vectors[i])
		if score > bestSeen {
			bestSeen = score
		}
		if score > c.minRelevance && score > best.Relevance {
			best = Result{Category: center.Category, Relevance: score}
		}
	}
	if best.Category == models.CategoryOther {
		best.Relevance = bestSeen
		if math.IsInf(bestSeen, -1) {
			best.Relevance = 0
		}
	}
	return best, nil
}

// centerVectors builds the center embeddings on first use. A failed build is
// not cached.
func (c *Classifier) centerVectors(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vectors != nil {
		return c.vectors, nil
	}

	texts := make([]string, len(c.centers))
	for i, center := range c.centers {
		texts[i] = center.Text
	}

	var vectors [][]float32
	if batch, ok := c.embedder.(models.BatchEmbedder); ok {
		out, err := batch.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding category centers: %w", err)
		}
		if len(out) != len(texts) {
			return nil, errors.New("embedding category centers: result count mismatch")
		}
		vectors = out
	} else {
		for _, text := range texts {
			v, err := c.embedder.Embed(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("embedding category centers: %w", err)
			}
			vectors = append(vectors, v)
		}
	}

	c.vectors = vectors
	c.logger.Debug().Int("centers", len(vectors)).Msg("Category centers embedded")
	return vectors, nil
}

// CosineSimilarity computes similarity between two embeddings.
// Returns 0 if vectors have different lengths or either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
