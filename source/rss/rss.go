// Package rss polls RSS and Atom feeds.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/source"
)

// Feed implements source.Feed for RSS, Atom and JSON feeds.
type Feed struct {
	client *http.Client
	parser *gofeed.Parser
}

var _ source.Feed = (*Feed)(nil)

// New creates a feed reader. A nil client uses source.NewHTTPClient.
func New(client *http.Client) *Feed {
	if client == nil {
		client = source.NewHTTPClient()
	}
	return &Feed{client: client, parser: gofeed.NewParser()}
}

// Poll fetches the feed at url and returns one record per item.
// Items carry full content when the feed has it and the description otherwise.
func (f *Feed) Poll(ctx context.Context, url string) ([]normalize.RawRecord, error) {
	resp, err := source.Get(ctx, f.client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, core.Permanent(fmt.Errorf("%w: %s: %w", core.ErrMalformedSource, url, err))
	}

	records := make([]normalize.RawRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		records = append(records, toRecord(url, item))
	}
	return records, nil
}

func toRecord(feedURL string, item *gofeed.Item) normalize.RawRecord {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	rec := normalize.RawRecord{
		SourceRef: feedURL,
		ItemRef:   item.Link,
		Title:     item.Title,
		Body:      body,
	}
	switch {
	case item.PublishedParsed != nil:
		rec.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		rec.PublishedAt = *item.UpdatedParsed
	}
	return rec
}
