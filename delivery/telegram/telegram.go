// Package telegram delivers digests through the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/digest"
)

const (
	// DefaultBaseURL is the Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"

	// MaxMessageRunes is the longest text a single sendMessage accepts.
	MaxMessageRunes = 4096
)

// ErrMisconfigured is returned when the bot token is missing.
var ErrMisconfigured = errors.New("telegram deliverer misconfigured")

// Deliverer sends digests to the chat whose id is the subscriber id.
type Deliverer struct {
	token   string
	baseURL string
	client  *http.Client
}

var (
	_ digest.Deliverer = (*Deliverer)(nil)
	_ digest.Limiter   = (*Deliverer)(nil)
)

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithBaseURL points the deliverer at another Bot API server.
func WithBaseURL(u string) Option {
	return func(d *Deliverer) {
		d.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Deliverer) {
		if c != nil {
			d.client = c
		}
	}
}

// New creates a deliverer for a bot token.
func New(token string, opts ...Option) *Deliverer {
	d := &Deliverer{
		token:   token,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxMessageRunes reports the Bot API length limit so digests are packed
// into messages that each need a single sendMessage call.
func (d *Deliverer) MaxMessageRunes() int {
	return MaxMessageRunes
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Deliver sends msg, split into as many messages as the API length limit requires.
// Rejections other than rate limiting and server errors are permanent.
func (d *Deliverer) Deliver(ctx context.Context, msg digest.Message) error {
	if d.token == "" {
		return core.Permanent(ErrMisconfigured)
	}
	if msg.SubscriberID == "" {
		return core.Permanent(fmt.Errorf("%w: empty chat id", ErrMisconfigured))
	}
	for _, part := range Split(msg.Text, MaxMessageRunes) {
		if err := d.send(ctx, msg.SubscriberID, part); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deliverer) send(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", d.baseURL, d.token)
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var api apiResponse
	_ = json.Unmarshal(body, &api)
	if resp.StatusCode == http.StatusOK && api.OK {
		return nil
	}

	err = fmt.Errorf("telegram error: %s: %s", resp.Status, api.Description)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return core.Permanent(err)
}

// Split breaks text into parts of at most limit runes, preferring line breaks.
func Split(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var (
		parts   []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.TrimRight(string(current), "\n"))
			current = current[:0]
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		if len(current)+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		current = append(current, r...)
	}
	flush()
	return parts
}
