package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Alias1177/TruthMesh/models"
	httpclient "github.com/Alias1177/TruthMesh/internal/platform/http"
)

const (
	DefaultNewsAPIURL   = "https://newsapi.org"
	DefaultNewsAPIQuery = "crypto OR ethereum OR bitcoin"
	newsAPIPageSize     = 8
)

// ErrMissingAPIKey is returned by sources that need a key when none is set
var ErrMissingAPIKey = errors.New("api key not configured")

// NewsAPISource searches newsapi.org for recent articles
type NewsAPISource struct {
	baseURL string
	apiKey  string
	query   string
	client  *httpclient.Client
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// NewNewsAPISource creates a NewsAPI source; an empty baseURL uses the public API
func NewNewsAPISource(baseURL, apiKey, query string) *NewsAPISource {
	if baseURL == "" {
		baseURL = DefaultNewsAPIURL
	}
	if query == "" {
		query = DefaultNewsAPIQuery
	}
	return &NewsAPISource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		query:   query,
		client: httpclient.NewClient(httpclient.ClientOptions{
			Timeout:        15 * time.Second,
			RequestsPerSec: 1,
		}),
	}
}

func (s *NewsAPISource) Name() string {
	return "newsapi"
}

func (s *NewsAPISource) Fetch(ctx context.Context) ([]models.IncomingEvent, error) {
	if s.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("q", s.query)
	params.Set("pageSize", strconv.Itoa(newsAPIPageSize))
	params.Set("sortBy", "publishedAt")

	var resp newsAPIResponse
	headers := map[string]string{"X-Api-Key": s.apiKey}
	if err := s.client.GetJSON(ctx, s.baseURL+"/v2/everything?"+params.Encode(), headers, &resp); err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("newsapi: %s", resp.Message)
	}

	events := make([]models.IncomingEvent, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		text := a.Title
		if a.Description != "" {
			text += " - " + a.Description
		}
		events = append(events, models.IncomingEvent{
			Source:   "newsapi",
			SourceID: a.URL,
			Title:    a.Title,
			Text:     text,
			URL:      a.URL,
			Metadata: models.Metadata{
				"source_name":  a.Source.Name,
				"published_at": a.PublishedAt,
			},
		})
	}
	return events, nil
}
