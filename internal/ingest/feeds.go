package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFeeds are polled when no feeds file is configured
var DefaultFeeds = []Feed{
	{Name: "coindesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/"},
	{Name: "reuters-markets", URL: "https://www.reuters.com/markets/us/rss"},
}

// Feed is one RSS entry of the feeds file
type Feed struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	MaxItems int    `yaml:"max_items"`
}

// FeedsFile is the on-disk source list
type FeedsFile struct {
	Feeds     []Feed   `yaml:"feeds"`
	NewsQuery string   `yaml:"news_query"`
	Coins     []string `yaml:"coins"`
}

// LoadFeeds reads a YAML feeds file
func LoadFeeds(path string) (*FeedsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feeds file: %w", err)
	}

	var f FeedsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing feeds file %s: %w", path, err)
	}
	for i, feed := range f.Feeds {
		if feed.URL == "" {
			return nil, fmt.Errorf("feeds file %s: feed %d has no url", path, i)
		}
	}
	return &f, nil
}

// RSSSources builds one source per feed
func RSSSources(feeds []Feed) []Source {
	sources := make([]Source, 0, len(feeds))
	for _, f := range feeds {
		sources = append(sources, NewRSSSource(f.Name, f.URL, f.MaxItems))
	}
	return sources
}
