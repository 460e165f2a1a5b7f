package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEmbedderRequiresKey(t *testing.T) {
	_, err := NewEmbedder(context.Background(), "", "")
	assert.Error(t, err)
}

func TestNewEmbedderDefaultsModel(t *testing.T) {
	e, err := NewEmbedder(context.Background(), "test-key", "")
	if err != nil {
		t.Skipf("gemini client unavailable: %v", err)
	}
	assert.Equal(t, DefaultModel, e.Model())
}
