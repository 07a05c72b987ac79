// Package source defines where raw records come from.
//
// A Feed knows how to poll one kind of source (RSS feed, Telegram channel,
// CSV export) and returns raw records for the normalizer. A Registry maps
// source types to feeds so callers can poll a list of configured sources.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/normalize"
)

// UserAgent is sent with every source request.
const UserAgent = "trendwire/1.0 (+https://github.com/poiesic/trendwire)"

// ErrUnknownSourceType is returned when no feed is registered for a source type.
var ErrUnknownSourceType = errors.New("no feed registered for source type")

// Source is one configured origin of raw records.
type Source struct {
	Ref      string
	Type     core.SourceType
	Category string // used as the category hint of every record
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.Ref)
}

// Feed polls one kind of source.
type Feed interface {
	Poll(ctx context.Context, ref string) ([]normalize.RawRecord, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context, ref string) ([]normalize.RawRecord, error)

func (f FeedFunc) Poll(ctx context.Context, ref string) ([]normalize.RawRecord, error) {
	return f(ctx, ref)
}

// Registry resolves feeds by source type.
type Registry struct {
	mu    sync.RWMutex
	feeds map[core.SourceType]Feed
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[core.SourceType]Feed)}
}

// Register sets the feed for a source type.
func (r *Registry) Register(t core.SourceType, f Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[t] = f
}

// Resolve returns the feed registered for t.
func (r *Registry) Resolve(t core.SourceType) (Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.feeds[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSourceType, t)
	}
	return f, nil
}

// NewHTTPClient returns the client feeds use when none is supplied.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

// Get fetches url with the shared user agent. Non-200 responses are errors;
// 4xx other than 429 are permanent.
func Get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("%s returned %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, core.Permanent(err)
		}
		return nil, err
	}
	return resp, nil
}
