package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/digest"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botServer struct {
	mu        sync.Mutex
	texts     []string
	chats     []string
	delivered []string
	status    int
	body      string
	calls     int
	failOn    int // 1-based call answered with 429, 0 for none
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.URL.Path != "/botTOKEN/sendMessage" {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseForm()
	b.texts = append(b.texts, r.PostForm.Get("text"))
	b.chats = append(b.chats, r.PostForm.Get("chat_id"))
	b.calls++
	if b.calls == b.failOn {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests: retry after 1"}`))
		return
	}
	if b.status != 0 {
		w.WriteHeader(b.status)
		_, _ = w.Write([]byte(b.body))
		return
	}
	b.delivered = append(b.delivered, r.PostForm.Get("text"))
	_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
}

func (b *botServer) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.delivered...)
}

func TestDeliver(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	d := New("TOKEN", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	err := d.Deliver(context.Background(), digest.Message{SubscriberID: "1001", Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, bot.texts)
	assert.Equal(t, []string{"1001"}, bot.chats)
}

func TestDeliver_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "chat not found", status: http.StatusBadRequest, body: `{"ok":false,"description":"Bad Request: chat not found"}`, permanent: true},
		{name: "bot blocked", status: http.StatusForbidden, body: `{"ok":false}`, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false}`, permanent: false},
		{name: "server error", status: http.StatusBadGateway, body: ``, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(&botServer{status: tt.status, body: tt.body})
			defer srv.Close()

			d := New("TOKEN", WithBaseURL(srv.URL))
			err := d.Deliver(context.Background(), digest.Message{SubscriberID: "1", Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, core.IsPermanent(err))
		})
	}
}

func TestDeliver_Misconfigured(t *testing.T) {
	err := New("").Deliver(context.Background(), digest.Message{SubscriberID: "1", Text: "x"})
	assert.ErrorIs(t, err, ErrMisconfigured)
	assert.True(t, core.IsPermanent(err))
}

func TestDeliver_SplitsLongMessages(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	line := strings.Repeat("a", 3000) + "\n"
	d := New("TOKEN", WithBaseURL(srv.URL))
	require.NoError(t, d.Deliver(context.Background(), digest.Message{SubscriberID: "1", Text: line + line}))
	assert.Len(t, bot.texts, 2)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "fits", text: "short", limit: 10, want: []string{"short"}},
		{name: "on line boundary", text: "aaaa\nbbbb\ncc", limit: 6, want: []string{"aaaa", "bbbb", "cc"}},
		{name: "packs lines", text: "aa\nbb\ncccccc", limit: 6, want: []string{"aa\nbb", "cccccc"}},
		{name: "long line is cut", text: "abcdefgh", limit: 3, want: []string{"abc", "def", "gh"}},
		{name: "multibyte", text: "привет", limit: 4, want: []string{"прив", "ет"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.text, tt.limit))
		})
	}
}

type staticSource map[string]*core.AnalysisReport

func (s staticSource) Report(_ context.Context, category string, _ core.Cadence, _ time.Time) (*core.AnalysisReport, error) {
	return s[category], nil
}

type captureEnqueuer struct {
	keys     []string
	payloads [][]byte
}

func (c *captureEnqueuer) Enqueue(_ context.Context, _ core.TaskClass, key string, payload []byte) (string, error) {
	c.keys = append(c.keys, key)
	c.payloads = append(c.payloads, payload)
	return key, nil
}

func TestDigest_RetryAfterRateLimitSendsEachPartOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	require.NoError(t, repos.Subscriptions.UpsertSubscription(ctx, &core.Subscription{
		SubscriberID: "42",
		Categories:   []string{"games", "tech"},
		Cadence:      core.CadenceDaily,
	}))

	enq := &captureEnqueuer{}
	sched, err := digest.NewScheduler(repos.Subscriptions, enq, digest.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = sched.Tick(ctx, now)
	require.NoError(t, err)
	require.Len(t, enq.keys, 1)
	task := &core.TaskRecord{ID: "t1", Class: core.TaskDigest, IdempotenceKey: enq.keys[0], Payload: enq.payloads[0]}

	// Two sections of about 3000 runes each cannot share one message.
	source := staticSource{
		"games": {Headline: "Games news", SummaryText: strings.Repeat("g", 3000)},
		"tech":  {Headline: "Tech news", SummaryText: strings.Repeat("t", 3000)},
	}
	bot := &botServer{failOn: 2}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	h, err := digest.NewHandler(repos.Subscriptions, source, New("TOKEN", WithBaseURL(srv.URL)),
		digest.WithHandlerClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = h.Handle(ctx, task)
	require.Error(t, err)
	assert.False(t, core.IsPermanent(err), "rate limiting is retried")
	require.Len(t, bot.sent(), 1)

	period := core.DefaultSchedule().PeriodStart(core.CadenceDaily, now)
	delivered, err := repos.Subscriptions.DeliveredCategories(ctx, "42", period)
	require.NoError(t, err)
	assert.Equal(t, []string{"games"}, delivered)
	sub, err := repos.Subscriptions.GetSubscription(ctx, "42")
	require.NoError(t, err)
	assert.True(t, sub.LastSentAt.IsZero(), "an unfinished digest keeps the subscription due")

	_, err = h.Handle(ctx, task)
	require.NoError(t, err)

	sent := bot.sent()
	require.Len(t, sent, 2)
	gamesParts := 0
	for _, text := range sent {
		assert.LessOrEqual(t, len([]rune(text)), MaxMessageRunes)
		if strings.Contains(text, "GAMES") {
			gamesParts++
		}
	}
	assert.Equal(t, 1, gamesParts, "the games part reached the subscriber once")
	assert.Contains(t, sent[1], "TECH")

	sub, err = repos.Subscriptions.GetSubscription(ctx, "42")
	require.NoError(t, err)
	assert.True(t, sub.LastSentAt.Equal(now))

	// A third run finds the whole digest receipted.
	_, err = h.Handle(ctx, task)
	require.NoError(t, err)
	assert.Len(t, bot.sent(), 2)
}
