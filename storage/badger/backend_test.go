package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func newTestDocument(text, category string, published time.Time) *core.Document {
	doc := &core.Document{
		SourceType:     core.SourceTypeRSS,
		SourceRef:      "https://example.com/rss",
		NormalizedText: text,
		PublishedAt:    published,
		Category:       category,
	}
	doc.Fingerprint = core.FingerprintOf(doc.SourceType, doc.SourceRef, doc.NormalizedText)
	return doc
}

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir() + "/nested/db"
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "store")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := OpenBackend(file, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")

	_, err = OpenBackend("", false)
	require.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	_, err = NewDocumentStore(backend).GetDocument(context.Background(), "missing")
	assert.Error(t, err)
}

func TestTimeKeysSortChronologically(t *testing.T) {
	times := []time.Time{
		time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Unix(0, 0).UTC(),
		time.Date(2025, 6, 4, 14, 0, 0, 0, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		prev := makePartialDocumentDateKey(times[i-1])
		next := makePartialDocumentDateKey(times[i])
		assert.Less(t, string(prev), string(next), "key for %v should sort before %v", times[i-1], times[i])
	}
	assert.True(t, times[2].Equal(readTime(appendTime(nil, times[2]))))
}

func TestInsertIfAbsent_ConcurrentCallersSeeOneInsert(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := newTestDocument("same story", "games", time.Now().UTC())
			doc.Title = fmt.Sprintf("copy %d", i)
			ok, err := repos.Documents.InsertIfAbsent(ctx, doc)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	docs, err := repos.Documents.ListDocuments(ctx, storageFilter("games"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
