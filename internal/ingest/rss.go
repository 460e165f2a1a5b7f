package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Alias1177/TruthMesh/models"
)

// DefaultRSSItems caps how many entries are taken from one feed per poll
const DefaultRSSItems = 10

// RSSSource reads an RSS or Atom feed
type RSSSource struct {
	name     string
	url      string
	maxItems int
	parser   *gofeed.Parser
}

// NewRSSSource creates a feed source. A zero maxItems uses DefaultRSSItems.
func NewRSSSource(name, url string, maxItems int) *RSSSource {
	if maxItems <= 0 {
		maxItems = DefaultRSSItems
	}
	if name == "" {
		name = "rss:" + url
	}
	parser := gofeed.NewParser()
	parser.UserAgent = "TruthMesh/1.0"
	return &RSSSource{name: name, url: url, maxItems: maxItems, parser: parser}
}

func (s *RSSSource) Name() string {
	return s.name
}

// Fetch parses the feed and converts its newest items
func (s *RSSSource) Fetch(ctx context.Context) ([]models.IncomingEvent, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.url, err)
	}

	items := feed.Items
	if len(items) > s.maxItems {
		items = items[:s.maxItems]
	}

	events := make([]models.IncomingEvent, 0, len(items))
	for _, item := range items {
		events = append(events, s.convert(item))
	}
	return events, nil
}

func (s *RSSSource) convert(item *gofeed.Item) models.IncomingEvent {
	var parts []string
	for _, p := range []string{item.Title, item.Description, item.Content} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}

	sourceID := item.GUID
	if sourceID == "" {
		sourceID = item.Link
	}
	if sourceID == "" {
		sourceID = item.Title
	}

	meta := models.Metadata{"feed": s.url}
	if item.PublishedParsed != nil {
		meta["published_at"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.Published != "" {
		meta["published_at"] = item.Published
	}

	return models.IncomingEvent{
		Source:   "rss:" + s.url,
		SourceID: sourceID,
		Title:    item.Title,
		Text:     strings.Join(parts, " - "),
		URL:      item.Link,
		Metadata: meta,
	}
}
