package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpclient "github.com/Alias1177/TruthMesh/internal/platform/http"
)

// Defaults for a local Ollama server
const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "nomic-embed-text"
)

// Embedder generates embeddings via an Ollama server
type Embedder struct {
	endpoint string
	model    string
	client   *httpclient.Client
	logger   zerolog.Logger
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewEmbedder creates an Ollama embedder
func NewEmbedder(endpoint, model string) *Embedder {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client: httpclient.NewClient(httpclient.ClientOptions{
			Timeout:        30 * time.Second,
			RequestsPerSec: 20,
		}),
		logger: log.With().Str("component", "ollama_embedder").Logger(),
	}
}

// Model returns the embedding model name
func (e *Embedder) Model() string { return e.model }

// Available reports whether the server is reachable and has the model pulled
func (e *Embedder) Available(ctx context.Context) bool {
	var tags tagsResponse
	if err := e.client.GetJSON(ctx, e.endpoint+"/api/tags", nil, &tags); err != nil {
		e.logger.Debug().Err(err).Msg("Ollama not available")
		return false
	}
	for _, m := range tags.Models {
		// "model" matches "model:latest"
		if m.Name == e.model || m.Name == e.model+":latest" {
			return true
		}
	}
	return false
}

// Embed generates a vector embedding for the given text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds several texts in one request
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}

	var resp embedResponse
	if err := e.client.PostJSON(ctx, e.endpoint+"/api/embed", embedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
