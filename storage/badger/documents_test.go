package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageFilter(category string) storage.DocumentFilter {
	return storage.DocumentFilter{Category: category}
}

func TestDocumentStore_InsertIfAbsent(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	doc := newTestDocument("patch notes released", "games", time.Now().UTC())

	inserted, err := repos.Documents.InsertIfAbsent(ctx, doc)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, doc.IngestedAt.IsZero())

	again := newTestDocument("patch notes released", "tech", time.Now().UTC())
	inserted, err = repos.Documents.InsertIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := repos.Documents.GetDocument(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "games", stored.Category, "first write wins")
}

func TestDocumentStore_InsertRejectsInvalid(t *testing.T) {
	repos := newTestRepos(t)
	doc := newTestDocument("text", "games", time.Now())
	doc.NormalizedText = "tampered"

	_, err := repos.Documents.InsertIfAbsent(context.Background(), doc)
	assert.ErrorIs(t, err, core.ErrInvalidFingerprint)
}

func TestDocumentStore_GetDocument_NotFound(t *testing.T) {
	repos := newTestRepos(t)
	_, err := repos.Documents.GetDocument(context.Background(), "0123456789abcdef0123456789abcdef")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentStore_GetDocuments_PreservesOrder(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newTestDocument("alpha", "games", now)
	b := newTestDocument("beta", "games", now)
	for _, d := range []*core.Document{a, b} {
		_, err := repos.Documents.InsertIfAbsent(ctx, d)
		require.NoError(t, err)
	}

	docs, err := repos.Documents.GetDocuments(ctx, b.Fingerprint, "ffffffffffffffffffffffffffffffff", a.Fingerprint)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.Fingerprint, docs[0].Fingerprint)
	assert.Equal(t, a.Fingerprint, docs[1].Fingerprint)
}

func TestDocumentStore_ListDocuments(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

	docs := []*core.Document{
		newTestDocument("one", "games", base.Add(-3*time.Hour)),
		newTestDocument("two", "tech", base.Add(-2*time.Hour)),
		newTestDocument("three", "games", base.Add(-1*time.Hour)),
		newTestDocument("four", "games", base),
	}
	for _, d := range docs {
		_, err := repos.Documents.InsertIfAbsent(ctx, d)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter storage.DocumentFilter
		want   []string
	}{
		{
			name:   "all newest first",
			filter: storage.DocumentFilter{},
			want:   []string{"four", "three", "two", "one"},
		},
		{
			name:   "category",
			filter: storage.DocumentFilter{Category: "games"},
			want:   []string{"four", "three", "one"},
		},
		{
			name: "window end is exclusive",
			filter: storage.DocumentFilter{
				Category: "games",
				Window:   core.TimeWindow{Start: base.Add(-3 * time.Hour), End: base},
			},
			want: []string{"three", "one"},
		},
		{
			name:   "limit",
			filter: storage.DocumentFilter{Limit: 2},
			want:   []string{"four", "three"},
		},
		{
			name:   "unknown category",
			filter: storage.DocumentFilter{Category: "sports"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repos.Documents.ListDocuments(ctx, tt.filter)
			require.NoError(t, err)
			var texts []string
			for _, d := range got {
				texts = append(texts, d.NormalizedText)
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestDocumentStore_ScanDocuments(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		_, err := repos.Documents.InsertIfAbsent(ctx, newTestDocument(text, "games", time.Now()))
		require.NoError(t, err)
	}

	var seen int
	err := repos.Documents.ScanDocuments(ctx, func(*core.Document) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
}

func TestDocumentStore_PruneBefore(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	old := newTestDocument("old", "games", cutoff.Add(-time.Hour))
	fresh := newTestDocument("fresh", "games", cutoff.Add(time.Hour))
	for _, d := range []*core.Document{old, fresh} {
		_, err := repos.Documents.InsertIfAbsent(ctx, d)
		require.NoError(t, err)
	}

	pruned, err := repos.Documents.PruneBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []core.Fingerprint{old.Fingerprint}, pruned)

	remaining, err := repos.Documents.ListDocuments(ctx, storage.DocumentFilter{Category: "games"})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.Fingerprint, remaining[0].Fingerprint)

	// A pruned document can be ingested again.
	inserted, err := repos.Documents.InsertIfAbsent(ctx, newTestDocument("old", "games", cutoff.Add(-time.Hour)))
	require.NoError(t, err)
	assert.True(t, inserted)
}
