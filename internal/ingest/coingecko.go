package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Alias1177/TruthMesh/models"
	httpclient "github.com/Alias1177/TruthMesh/internal/platform/http"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com"

// DefaultCoinIDs are the tickers polled when none are configured
var DefaultCoinIDs = []string{"bitcoin", "ethereum"}

// CoinGeckoSource turns spot prices into price ticker events
type CoinGeckoSource struct {
	baseURL string
	ids     []string
	client  *httpclient.Client
	now     func() time.Time
}

type coinPrice struct {
	USD       float64  `json:"usd"`
	Change24h *float64 `json:"usd_24h_change"`
}

// NewCoinGeckoSource creates a price source for the given coin ids
func NewCoinGeckoSource(baseURL string, ids []string) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if len(ids) == 0 {
		ids = DefaultCoinIDs
	}
	return &CoinGeckoSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		ids:     ids,
		client: httpclient.NewClient(httpclient.ClientOptions{
			Timeout:        15 * time.Second,
			RequestsPerSec: 1,
		}),
		now: time.Now,
	}
}

func (s *CoinGeckoSource) Name() string {
	return "coingecko"
}

func (s *CoinGeckoSource) Fetch(ctx context.Context) ([]models.IncomingEvent, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(s.ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")

	prices := map[string]coinPrice{}
	if err := s.client.GetJSON(ctx, s.baseURL+"/api/v3/simple/price?"+params.Encode(), nil, &prices); err != nil {
		return nil, fmt.Errorf("coingecko request: %w", err)
	}

	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	at := s.now().UTC().Format(time.RFC3339)
	events := make([]models.IncomingEvent, 0, len(ids))
	for _, id := range ids {
		p := prices[id]
		change := "n/a"
		meta := models.Metadata{"price": p.USD}
		if p.Change24h != nil {
			change = fmt.Sprintf("%.2f%%", *p.Change24h)
			meta["change_24h"] = *p.Change24h
		}

		events = append(events, models.IncomingEvent{
			Source:   "coingecko",
			SourceID: fmt.Sprintf("price:%s:%s", id, at),
			Title:    id + " price",
			Text:     fmt.Sprintf("Coingecko: %s price $%v (24h %s) at %s", id, p.USD, change, at),
			URL:      "https://www.coingecko.com/en/coins/" + id,
			Metadata: meta,
		})
	}
	return events, nil
}
