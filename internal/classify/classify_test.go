package classify

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/TruthMesh/models"
)

// fakeEmbedder returns fixed vectors keyed by text
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
	failing int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failing > 0 {
		f.failing--
		return nil, errors.New("provider unavailable")
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("unknown text " + text)
	}
	return v, nil
}

type batchEmbedder struct {
	fakeEmbedder
	batches int
}

func (b *batchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.batches++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := b.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// axisCenters gives every default center its own axis in 5-space
func axisCenters() map[string][]float32 {
	m := map[string][]float32{}
	for i, c := range DefaultCenters {
		v := make([]float32, len(DefaultCenters))
		v[i] = 1
		m[c.Text] = v
	}
	return m
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestClassifyPicksNearestCenter(t *testing.T) {
	vectors := axisCenters()
	vectors["bridge hacked for $100M"] = []float32{0.1, 0, 0, 0.2, 0.9}
	vectors["ETF inflows"] = []float32{0.9, 0.1, 0, 0, 0}

	c := New(&fakeEmbedder{vectors: vectors})

	res, err := c.Classify(context.Background(), "bridge hacked for $100M")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryExploit, res.Category)
	assert.InDelta(t, 0.9/math.Sqrt(0.01+0.04+0.81), res.Relevance, 1e-6)

	res, err = c.Classify(context.Background(), "ETF inflows")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryBTCPrice, res.Category)
}

func TestClassifyTieKeepsFirstCategory(t *testing.T) {
	vectors := axisCenters()
	// equal similarity to Macro and Regulation
	vectors["tied"] = []float32{0, 0, 1, 1, 0}

	c := New(&fakeEmbedder{vectors: vectors})
	res, err := c.Classify(context.Background(), "tied")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryMacro, res.Category)
}

func TestClassifyFallsBackToOther(t *testing.T) {
	vectors := axisCenters()
	vectors["weather report"] = []float32{0.1, 0.2, 0, 0, 0}

	c := New(&fakeEmbedder{vectors: vectors}, WithMinRelevance(0.95))
	res, err := c.Classify(context.Background(), "weather report")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryOther, res.Category)
	assert.InDelta(t, 0.2/math.Sqrt(0.05), res.Relevance, 1e-6, "best similarity is still recorded")
}

func TestCentersBuiltOnceWithBatch(t *testing.T) {
	vectors := axisCenters()
	vectors["a"] = []float32{1, 0, 0, 0, 0}
	emb := &batchEmbedder{fakeEmbedder: fakeEmbedder{vectors: vectors}}
	c := New(emb)

	for i := 0; i < 3; i++ {
		_, err := c.Classify(context.Background(), "a")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.batches)
	assert.Equal(t, len(DefaultCenters)+3, emb.calls)
}

func TestCenterBuildFailureIsRetried(t *testing.T) {
	vectors := axisCenters()
	vectors["a"] = []float32{1, 0, 0, 0, 0}
	emb := &fakeEmbedder{vectors: vectors, failing: 1}
	c := New(emb)

	_, err := c.Classify(context.Background(), "a")
	require.Error(t, err)

	res, err := c.Classify(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryBTCPrice, res.Category)
}

func TestClassifyEmbedError(t *testing.T) {
	c := New(&fakeEmbedder{vectors: axisCenters()})
	_, err := c.Classify(context.Background(), "not embedded")
	assert.Error(t, err)
}
