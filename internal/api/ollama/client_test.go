package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := embedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL+"/", "")
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{2, 1}, out[2])

	one, err := e.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, one)
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	_, err := NewEmbedder(srv.URL, "m").Embed(context.Background(), "a")
	assert.Error(t, err)
}

func TestAvailable(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		models string
		want   bool
	}{
		{"exact", "nomic-embed-text:v1.5", `{"models":[{"name":"nomic-embed-text:v1.5"}]}`, true},
		{"latest tag", "nomic-embed-text", `{"models":[{"name":"nomic-embed-text:latest"}]}`, true},
		{"missing", "mxbai-embed-large", `{"models":[{"name":"nomic-embed-text:latest"}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/tags", r.URL.Path)
				_, _ = w.Write([]byte(tt.models))
			}))
			defer srv.Close()
			assert.Equal(t, tt.want, NewEmbedder(srv.URL, tt.model).Available(context.Background()))
		})
	}
}
