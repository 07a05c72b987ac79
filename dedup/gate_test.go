package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/storage/badger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, cache SeenCache) (*Gate, *badger.Repositories) {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return NewGate(repos.Documents, cache), repos
}

func newDocument(text string) *core.Document {
	doc := &core.Document{
		SourceType:     core.SourceTypeRSS,
		SourceRef:      "https://example.com/feed",
		NormalizedText: text,
		PublishedAt:    time.Now().UTC().Add(-time.Hour),
		Category:       "games",
	}
	doc.Fingerprint = core.FingerprintOf(doc.SourceType, doc.SourceRef, doc.NormalizedText)
	return doc
}

func TestGate_AdmitThenSeen(t *testing.T) {
	cache := NewMemoryCache(0)
	gate, repos := newTestGate(t, cache)
	ctx := context.Background()
	doc := newDocument("patch notes")

	seen, err := gate.Seen(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.False(t, seen)

	adm, err := gate.Admit(ctx, doc)
	require.NoError(t, err)
	assert.True(t, adm.Inserted)
	assert.Equal(t, doc.Fingerprint, adm.Fingerprint)

	cached, err := cache.Seen(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.True(t, cached, "cache is marked after the insert commits")

	adm, err = gate.Admit(ctx, doc)
	require.NoError(t, err)
	assert.False(t, adm.Inserted)

	stored, err := repos.Documents.GetDocument(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, doc.NormalizedText, stored.NormalizedText)
}

func TestGate_SeenFallsBackToStore(t *testing.T) {
	cache := NewMemoryCache(0)
	gate, repos := newTestGate(t, cache)
	ctx := context.Background()
	doc := newDocument("persisted by another worker")

	_, err := repos.Documents.InsertIfAbsent(ctx, doc)
	require.NoError(t, err)

	seen, err := gate.Seen(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, cache.Len())
}

func TestGate_ConcurrentAdmitInsertsOnce(t *testing.T) {
	gate, repos := newTestGate(t, NewMemoryCache(0))
	ctx := context.Background()

	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := gate.Admit(ctx, newDocument("overlapping polls"))
			assert.NoError(t, err)
			if adm.Inserted {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	var count int
	require.NoError(t, repos.Documents.ScanDocuments(ctx, func(*core.Document) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestGate_AdmitInvalidIsPermanent(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	doc := newDocument("text")
	doc.NormalizedText = "changed after fingerprinting"

	_, err := gate.Admit(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, core.IsPermanent(err))
}

type failingCache struct{}

func (failingCache) Seen(context.Context, core.Fingerprint) (bool, error) {
	return false, errors.New("cache down")
}
func (failingCache) Mark(context.Context, core.Fingerprint) error { return errors.New("cache down") }

func TestGate_CacheFailureIsNotFatal(t *testing.T) {
	gate, _ := newTestGate(t, failingCache{})
	ctx := context.Background()
	doc := newDocument("still works")

	adm, err := gate.Admit(ctx, doc)
	require.NoError(t, err)
	assert.True(t, adm.Inserted)

	seen, err := gate.Seen(ctx, doc.Fingerprint)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	fp := newDocument("x").Fingerprint

	require.NoError(t, c.Mark(ctx, fp))
	seen, _ := c.Seen(ctx, fp)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = c.Seen(ctx, fp)
	assert.False(t, seen)
	assert.Equal(t, 0, c.Len())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client, "", time.Hour)
	ctx := context.Background()
	fp := newDocument("shared").Fingerprint

	seen, err := c.Seen(ctx, fp)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.Mark(ctx, fp))
	seen, err = c.Seen(ctx, fp)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists(DefaultRedisPrefix+string(fp)))

	mr.FastForward(2 * time.Hour)
	seen, err = c.Seen(ctx, fp)
	require.NoError(t, err)
	assert.False(t, seen)
}
