package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/trendwire/analysis"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/ingestion"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/storage"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

type fakeTasks struct {
	mu       sync.Mutex
	records  map[string]*core.TaskRecord
	enqueued []*core.TaskRecord
	err      error
}

func (f *fakeTasks) Enqueue(_ context.Context, class core.TaskClass, key string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	rec := &core.TaskRecord{ID: fmt.Sprintf("task-%d", len(f.enqueued)+1), Class: class, IdempotenceKey: key, Payload: payload, Status: core.TaskPending}
	f.enqueued = append(f.enqueued, rec)
	return rec.ID, nil
}

func (f *fakeTasks) Status(_ context.Context, id string) (*core.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

type fakeIngester struct {
	sourceType core.SourceType
	sourceRef  string
	records    []normalize.RawRecord
	summary    ingestion.Summary
	err        error
}

func (f *fakeIngester) Ingest(_ context.Context, st core.SourceType, ref string, records []normalize.RawRecord) (ingestion.Summary, error) {
	f.sourceType, f.sourceRef, f.records = st, ref, records
	return f.summary, f.err
}

type fixedRequests struct{}

func (fixedRequests) NewRequest(scope core.AnalysisScope, requestedBy string) *core.AnalysisRequest {
	return &core.AnalysisRequest{
		RequestID:   "req-1",
		Scope:       scope,
		Window:      core.TimeWindow{Start: testNow.Add(-7 * 24 * time.Hour), End: testNow},
		RequestedBy: requestedBy,
		CreatedAt:   testNow,
	}
}

type fixture struct {
	repos    *badger.Repositories
	tasks    *fakeTasks
	ingester *fakeIngester
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	f := &fixture{repos: repos, tasks: &fakeTasks{records: map[string]*core.TaskRecord{}}, ingester: &fakeIngester{}}
	s, err := New(Deps{
		Tasks:         f.tasks,
		Ingester:      f.ingester,
		Analyzer:      fixedRequests{},
		Reports:       repos.Reports,
		Subscriptions: repos.Subscriptions,
	}, WithClock(func() time.Time { return testNow }), WithMaxBody(1<<16))
	require.NoError(t, err)

	f.server = httptest.NewServer(s.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, ErrTasksRequired)
	_, err = New(Deps{Tasks: &fakeTasks{}})
	assert.ErrorIs(t, err, ErrIngesterRequired)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestSubmitRecords(t *testing.T) {
	f := newFixture(t)
	f.ingester.summary = ingestion.Summary{Received: 2, Malformed: 1, Enqueued: 1}

	resp, body := f.do(t, http.MethodPost, "/v1/tasks", `{
		"source_type": "rss",
		"source_ref": "https://example.com/rss",
		"records": [
			{"title": "Launch", "body": "<p>Console out</p>", "item_ref": "https://example.com/1", "category": "games"},
			{"body": " "}
		]}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 1, body["enqueued"])
	assert.EqualValues(t, 1, body["malformed"])
	assert.Equal(t, core.SourceTypeRSS, f.ingester.sourceType)
	require.Len(t, f.ingester.records, 2)
	assert.Equal(t, "games", f.ingester.records[0].CategoryHint)
	assert.Equal(t, "https://example.com/rss", f.ingester.records[0].SourceRef)
}

func TestSubmitRecords_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown field", `{"source_type":"rss","source_ref":"x","extra":1}`},
		{"unknown source type", `{"source_type":"fax","source_ref":"x"}`},
		{"missing source ref", `{"source_type":"csv"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitRecords_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.ingester.err = fmt.Errorf("%w: badger closed", core.ErrTransientIndex)

	resp, body := f.do(t, http.MethodPost, "/v1/tasks", `{"source_type":"rss","source_ref":"x","records":[{"body":"a"}]}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["error"])
}

func TestTaskStatus(t *testing.T) {
	f := newFixture(t)
	f.tasks.records["t1"] = &core.TaskRecord{
		ID: "t1", Class: core.TaskIngest, IdempotenceKey: "ingest:abc", Status: core.TaskSucceeded,
		AttemptCount: 2, Result: []byte(`{"inserted":true}`),
	}
	f.tasks.records["t2"] = &core.TaskRecord{ID: "t2", Class: core.TaskAnalysis, Status: core.TaskSucceeded, Result: []byte("req-9")}

	resp, body := f.do(t, http.MethodGet, "/v1/tasks/t1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", body["status"])
	assert.EqualValues(t, 2, body["attempts"])
	assert.Equal(t, map[string]any{"inserted": true}, body["result"])

	_, body = f.do(t, http.MethodGet, "/v1/tasks/t2", "")
	assert.Equal(t, "req-9", body["result"])

	resp, _ = f.do(t, http.MethodGet, "/v1/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestAnalysis(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/analyses", `{"category":"Games","window":"72h","requested_by":"42"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "task-1", body["task_id"])

	require.Len(t, f.tasks.enqueued, 1)
	task := f.tasks.enqueued[0]
	assert.Equal(t, core.TaskAnalysis, task.Class)
	assert.Equal(t, analysis.TaskKey("req-1"), task.IdempotenceKey)

	req, err := analysis.DecodeRequest(task.Payload)
	require.NoError(t, err)
	assert.Equal(t, "games", req.Scope.Category)
	assert.Equal(t, "42", req.RequestedBy)
	assert.Equal(t, testNow.Add(-72*time.Hour), req.Window.Start)
	assert.Equal(t, testNow, req.Window.End)
}

func TestRequestAnalysis_Invalid(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/v1/analyses", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty scope")

	resp, _ = f.do(t, http.MethodPost, "/v1/analyses", `{"query":"remakes","window":"-1h"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/analyses", `{"query":"remakes","since":"2025-06-05T00:00:00Z","until":"2025-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "inverted window")
	assert.Empty(t, f.tasks.enqueued)

	f.tasks.err = errors.New("queue down")
	resp, _ = f.do(t, http.MethodPost, "/v1/analyses", `{"query":"remakes"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetReport(t *testing.T) {
	f := newFixture(t)
	fp := core.FingerprintOf(core.SourceTypeRSS, "feed", "text")
	require.NoError(t, f.repos.Reports.SaveReport(context.Background(), &core.AnalysisReport{
		RequestID:              "req-1",
		Scope:                  core.AnalysisScope{Category: "games"},
		Headline:               "Remakes dominate",
		Trends:                 []core.Trend{{Title: "Remakes", Description: "Classics return", Importance: "high", References: []int{1}}},
		SummaryText:            "More remakes.",
		RawText:                "raw",
		SupportingFingerprints: []core.Fingerprint{fp},
		GeneratedAt:            testNow,
		ProviderUsed:           "primary",
	}))

	resp, body := f.do(t, http.MethodGet, "/v1/reports/req-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Remakes dominate", body["headline"])
	assert.Equal(t, "primary", body["provider_used"])
	assert.Equal(t, []any{string(fp)}, body["supporting_fingerprints"])
	assert.NotContains(t, body, "raw_text", "raw text is only shown for degraded reports")
	trends := body["trends"].([]any)
	require.Len(t, trends, 1)
	assert.Equal(t, "Remakes", trends[0].(map[string]any)["title"])

	resp, _ = f.do(t, http.MethodGet, "/v1/reports/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, body := f.do(t, http.MethodPut, "/v1/subscriptions/42", `{"categories":["Tech","games","tech"],"cadence":"daily"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"games", "tech"}, body["categories"])
	assert.Equal(t, "daily", body["cadence"])
	assert.NotContains(t, body, "last_sent_at")

	sub, err := f.repos.Subscriptions.GetSubscription(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, core.CadenceDaily, sub.Cadence)

	// Replacing keeps the delivery history.
	require.NoError(t, f.repos.Subscriptions.CommitDelivery(ctx, storage.DeliveryCommit{
		SubscriberID: "42", PeriodStart: testNow.Add(-time.Hour), Categories: []string{"games"},
		IdempotenceKey: "k", SentAt: testNow, Advance: true,
	}))
	resp, body = f.do(t, http.MethodPut, "/v1/subscriptions/42", `{"categories":["ai"],"cadence":"weekly"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weekly", body["cadence"])
	assert.Equal(t, testNow.Format(time.RFC3339), body["last_sent_at"])

	resp, _ = f.do(t, http.MethodPut, "/v1/subscriptions/42", `{"categories":["ai"],"cadence":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/v1/subscriptions/42", `{"categories":[" "],"cadence":"daily"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/subscriptions/42", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err = f.repos.Subscriptions.GetSubscription(ctx, "42")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	resp, _ = f.do(t, http.MethodDelete, "/v1/subscriptions/42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPatch, f.server.URL+"/v1/subscriptions/42", bytes.NewReader(nil))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s, err := New(Deps{Tasks: f.tasks, Ingester: f.ingester, Analyzer: fixedRequests{}, Reports: f.repos.Reports, Subscriptions: f.repos.Subscriptions})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
