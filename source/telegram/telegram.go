// Package telegram polls public Telegram channels through their web preview
// at https://t.me/s/<channel>, which needs no account or bot token.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/source"
)

const (
	// DefaultBaseURL is the public preview host.
	DefaultBaseURL = "https://t.me"

	// titleRunes is how much of a post becomes its title.
	titleRunes = 100
)

var channelName = regexp.MustCompile(`^[A-Za-z0-9_]{3,64}$`)

// Feed implements source.Feed for public channels.
type Feed struct {
	client  *http.Client
	baseURL string
}

var _ source.Feed = (*Feed)(nil)

// Option configures a Feed.
type Option func(*Feed)

// WithBaseURL replaces the preview host.
func WithBaseURL(u string) Option {
	return func(f *Feed) {
		f.baseURL = strings.TrimRight(u, "/")
	}
}

// New creates a channel reader. A nil client uses source.NewHTTPClient.
func New(client *http.Client, opts ...Option) *Feed {
	if client == nil {
		client = source.NewHTTPClient()
	}
	f := &Feed{client: client, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ChannelName extracts the channel from "@name", "name" or a t.me link.
func ChannelName(ref string) (string, error) {
	name := strings.TrimSpace(ref)
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "t.me/")
	name = strings.TrimPrefix(name, "s/")
	name = strings.TrimPrefix(name, "@")
	name = strings.Trim(name, "/")
	if !channelName.MatchString(name) {
		return "", core.Permanent(fmt.Errorf("%w: invalid telegram channel %q", core.ErrMalformedSource, ref))
	}
	return name, nil
}

// Poll returns the most recent posts of a channel. Posts without text
// (photos, stickers) are skipped.
func (f *Feed) Poll(ctx context.Context, ref string) ([]normalize.RawRecord, error) {
	channel, err := ChannelName(ref)
	if err != nil {
		return nil, err
	}

	resp, err := source.Get(ctx, f.client, fmt.Sprintf("%s/s/%s", f.baseURL, channel))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse channel page: %w", err)
	}
	return extractPosts(doc, channel), nil
}

func extractPosts(doc *goquery.Document, channel string) []normalize.RawRecord {
	var records []normalize.RawRecord
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, msg *goquery.Selection) {
		post, _ := msg.Attr("data-post")
		id := post[strings.LastIndex(post, "/")+1:]
		if id == "" {
			return
		}

		textSel := msg.Find(".tgme_widget_message_text").First()
		html, err := textSel.Html()
		if err != nil {
			return
		}
		text, err := normalize.StripMarkup(html)
		if err != nil || strings.TrimSpace(text) == "" {
			return
		}

		rec := normalize.RawRecord{
			SourceRef: channel,
			ItemRef:   fmt.Sprintf("%s/%s/%s", DefaultBaseURL, channel, id),
			Title:     title(text),
			Body:      html,
		}
		if stamp, ok := msg.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, stamp); err == nil {
				rec.PublishedAt = t
			}
		}
		records = append(records, rec)
	})
	return records
}

func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > titleRunes {
		return string(r[:titleRunes])
	}
	return text
}
