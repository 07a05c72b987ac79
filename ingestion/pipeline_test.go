package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/trendwire/ai/mock"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/dedup"
	"github.com/poiesic/trendwire/embedding"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/orchestrator"
	"github.com/poiesic/trendwire/queue/memory"
	"github.com/poiesic/trendwire/retry"
	"github.com/poiesic/trendwire/source"
	"github.com/poiesic/trendwire/storage"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEnqueuer implements orchestrator.Enqueuer for testing
type recordingEnqueuer struct {
	mu    sync.Mutex
	keys  []string
	tasks map[string][]byte
	err   error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, class core.TaskClass, key string, payload []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if r.tasks == nil {
		r.tasks = make(map[string][]byte)
	}
	r.keys = append(r.keys, key)
	r.tasks[key] = payload
	return "id-" + key, nil
}

func newTestRepos(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func newTestPipeline(t *testing.T, repos *badger.Repositories, enq orchestrator.Enqueuer, opts ...Option) *Pipeline {
	t.Helper()
	gate := dedup.NewGate(repos.Documents, dedup.NewMemoryCache(time.Hour))
	p, err := NewPipeline(normalize.New(), gate, enq, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestNewPipeline_Validation(t *testing.T) {
	repos := newTestRepos(t)
	gate := dedup.NewGate(repos.Documents, nil)

	_, err := NewPipeline(nil, gate, &recordingEnqueuer{})
	assert.ErrorIs(t, err, ErrNormalizerRequired)
	_, err = NewPipeline(normalize.New(), nil, &recordingEnqueuer{})
	assert.ErrorIs(t, err, ErrGateRequired)
	_, err = NewPipeline(normalize.New(), gate, nil)
	assert.ErrorIs(t, err, ErrEnqueuerRequired)
}

func TestPipeline_Ingest(t *testing.T) {
	repos := newTestRepos(t)
	enq := &recordingEnqueuer{}
	p := newTestPipeline(t, repos, enq)

	records := []normalize.RawRecord{
		{Title: "Launch", Body: "<p>The console launched today</p>", ItemRef: "a"},
		{Body: "   "},
		{Title: "Launch", Body: "The console launched today", ItemRef: "a-copy"},
		{Body: "Patch notes for season two", ItemRef: "b"},
	}
	summary, err := p.Ingest(context.Background(), core.SourceTypeRSS, "https://example.com/rss", records)
	require.NoError(t, err)

	assert.Equal(t, Summary{Received: 4, Malformed: 1, Duplicates: 1, Enqueued: 2}, summary)
	require.Len(t, enq.keys, 2)
	for _, key := range enq.keys {
		doc, err := storage.UnmarshalDocument(enq.tasks[key])
		require.NoError(t, err)
		assert.Equal(t, IngestKey(doc.Fingerprint), key)
		assert.Equal(t, "https://example.com/rss", doc.SourceRef)
	}
}

func TestPipeline_IngestSkipsStoredDocuments(t *testing.T) {
	repos := newTestRepos(t)
	enq := &recordingEnqueuer{}
	p := newTestPipeline(t, repos, enq)
	ctx := context.Background()

	doc, err := normalize.New().Normalize(core.SourceTypeCSV, normalize.RawRecord{SourceRef: "export.csv", Body: "Already here"})
	require.NoError(t, err)
	_, err = repos.Documents.InsertIfAbsent(ctx, doc)
	require.NoError(t, err)

	summary, err := p.Ingest(ctx, core.SourceTypeCSV, "export.csv", []normalize.RawRecord{{Body: "Already here"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Empty(t, enq.keys)
}

func TestPipeline_IngestReportsEnqueueFailures(t *testing.T) {
	repos := newTestRepos(t)
	enq := &recordingEnqueuer{err: errors.New("queue down")}
	p := newTestPipeline(t, repos, enq)

	summary, err := p.Ingest(context.Background(), core.SourceTypeRSS, "feed", []normalize.RawRecord{{Body: "one"}, {Body: "two"}})
	assert.Error(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Enqueued)
}

func TestPipeline_Poll(t *testing.T) {
	repos := newTestRepos(t)
	enq := &recordingEnqueuer{}

	var flakyCalls atomic.Int32
	feeds := source.NewRegistry()
	feeds.Register(core.SourceTypeRSS, source.FeedFunc(func(_ context.Context, ref string) ([]normalize.RawRecord, error) {
		return []normalize.RawRecord{{Body: "news from " + ref}}, nil
	}))
	feeds.Register(core.SourceTypeTelegram, source.FeedFunc(func(_ context.Context, ref string) ([]normalize.RawRecord, error) {
		return nil, core.Permanent(fmt.Errorf("%w: channel gone", core.ErrMalformedSource))
	}))
	feeds.Register(core.SourceTypeCSV, source.FeedFunc(func(_ context.Context, ref string) ([]normalize.RawRecord, error) {
		if flakyCalls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return []normalize.RawRecord{{Body: "row text", CategoryHint: "tech"}}, nil
	}))

	p := newTestPipeline(t, repos, enq, WithRegistry(feeds), WithPoolSize(2))
	summary, err := p.Poll(context.Background(), []source.Source{
		{Ref: "https://a.example/rss", Type: core.SourceTypeRSS, Category: "games"},
		{Ref: "https://b.example/rss", Type: core.SourceTypeRSS, Category: "games"},
		{Ref: "@gone", Type: core.SourceTypeTelegram, Category: "games"},
		{Ref: "export.csv", Type: core.SourceTypeCSV, Category: "games"},
	})

	require.Error(t, err, "failing source is reported")
	assert.Contains(t, err.Error(), "@gone")
	assert.Equal(t, 3, summary.Enqueued)
	assert.Equal(t, int32(2), flakyCalls.Load(), "transient poll errors are retried")

	categories := map[string]int{}
	for _, payload := range enq.tasks {
		doc, err := storage.UnmarshalDocument(payload)
		require.NoError(t, err)
		categories[doc.Category]++
	}
	assert.Equal(t, map[string]int{"games": 2, "tech": 1}, categories, "source category is only a default hint")
}

func TestPipeline_PollRequiresRegistry(t *testing.T) {
	p := newTestPipeline(t, newTestRepos(t), &recordingEnqueuer{})
	_, err := p.Poll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRegistryRequired)
}

func TestIngestHandler(t *testing.T) {
	repos := newTestRepos(t)
	enq := &recordingEnqueuer{}
	gate := dedup.NewGate(repos.Documents, nil)
	h, err := NewIngestHandler(gate, enq, nil)
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := normalize.New().Normalize(core.SourceTypeRSS, normalize.RawRecord{SourceRef: "feed", Body: "A new trend"})
	require.NoError(t, err)
	task := &core.TaskRecord{ID: "t1", Class: core.TaskIngest, Payload: storage.MarshalDocument(doc)}

	result, err := h.Handle(ctx, task)
	require.NoError(t, err)
	var first IngestResult
	require.NoError(t, json.Unmarshal(result, &first))
	assert.True(t, first.Inserted)
	assert.Equal(t, doc.Fingerprint, first.Fingerprint)

	// A retried attempt does not insert again but still chains the embed task.
	result, err = h.Handle(ctx, task)
	require.NoError(t, err)
	var second IngestResult
	require.NoError(t, json.Unmarshal(result, &second))
	assert.False(t, second.Inserted)
	assert.Equal(t, []string{EmbedKey(doc.Fingerprint), EmbedKey(doc.Fingerprint)}, enq.keys)
	assert.Equal(t, []byte(doc.Fingerprint), enq.tasks[EmbedKey(doc.Fingerprint)])
}

func TestIngestHandler_BadPayloadIsPermanent(t *testing.T) {
	repos := newTestRepos(t)
	h, err := NewIngestHandler(dedup.NewGate(repos.Documents, nil), &recordingEnqueuer{}, nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &core.TaskRecord{Payload: []byte{0xff}})
	assert.True(t, core.IsPermanent(err))
}

type fakeProducer struct {
	err   error
	calls []core.Fingerprint
}

func (f *fakeProducer) Produce(_ context.Context, fp core.Fingerprint) error {
	f.calls = append(f.calls, fp)
	return f.err
}

func TestEmbedHandler(t *testing.T) {
	fp := core.FingerprintOf(core.SourceTypeRSS, "feed", "text")

	producer := &fakeProducer{}
	h, err := NewEmbedHandler(producer)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &core.TaskRecord{Payload: []byte(fp)})
	require.NoError(t, err)
	assert.Equal(t, []core.Fingerprint{fp}, producer.calls)

	_, err = h.Handle(context.Background(), &core.TaskRecord{Payload: []byte("nope")})
	assert.True(t, core.IsPermanent(err))

	producer.err = fmt.Errorf("%w: timeout", core.ErrTransientProvider)
	_, err = h.Handle(context.Background(), &core.TaskRecord{Payload: []byte(fp)})
	assert.False(t, core.IsPermanent(err))

	_, err = NewEmbedHandler(nil)
	assert.ErrorIs(t, err, ErrProducerRequired)
}

func TestPipeline_EndToEnd(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	q := memory.New(64)
	defer q.Close()
	fast := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	orch, err := orchestrator.New(repos.Tasks, q,
		orchestrator.WithPolicy(core.TaskIngest, fast),
		orchestrator.WithPolicy(core.TaskEmbed, fast))
	require.NoError(t, err)

	gate := dedup.NewGate(repos.Documents, dedup.NewMemoryCache(time.Hour))
	embedder := mock.NewMockEmbedder()
	producer, err := embedding.NewProducer(repos.Documents, repos.Index, embedder)
	require.NoError(t, err)

	ingestHandler, err := NewIngestHandler(gate, orch, nil)
	require.NoError(t, err)
	embedHandler, err := NewEmbedHandler(producer)
	require.NoError(t, err)
	orch.Register(core.TaskIngest, ingestHandler)
	orch.Register(core.TaskEmbed, embedHandler)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	p, err := NewPipeline(normalize.New(), gate, orch)
	require.NoError(t, err)
	defer p.Release()

	records := []normalize.RawRecord{{Body: "first story"}, {Body: "second story"}}
	summary, err := p.Ingest(ctx, core.SourceTypeRSS, "feed", records)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Enqueued)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, raw := range records {
		raw.SourceRef = "feed"
		doc, err := normalize.New().Normalize(core.SourceTypeRSS, raw)
		require.NoError(t, err)

		ingest, err := orch.StatusByKey(ctx, IngestKey(doc.Fingerprint))
		require.NoError(t, err)
		rec, err := orch.Await(waitCtx, ingest.ID)
		require.NoError(t, err)
		require.Equal(t, core.TaskSucceeded, rec.Status, rec.Error)

		embed, err := orch.StatusByKey(ctx, EmbedKey(doc.Fingerprint))
		require.NoError(t, err)
		rec, err = orch.Await(waitCtx, embed.ID)
		require.NoError(t, err)
		require.Equal(t, core.TaskSucceeded, rec.Status, rec.Error)
	}

	count, err := repos.Index.CountEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-ingesting the same batch is suppressed before any task is created.
	summary, err = p.Ingest(ctx, core.SourceTypeRSS, "feed", records)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Zero(t, summary.Enqueued)
}
