package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/trendwire/core"
)

// DefaultTTL bounds how long a fingerprint stays in a SeenCache.
const DefaultTTL = 7 * 24 * time.Hour

// SeenCache is an advisory record of persisted fingerprints.
// A miss never means the document is absent.
type SeenCache interface {
	Seen(ctx context.Context, fp core.Fingerprint) (bool, error)
	Mark(ctx context.Context, fp core.Fingerprint) error
}

type noCache struct{}

func (noCache) Seen(context.Context, core.Fingerprint) (bool, error) { return false, nil }
func (noCache) Mark(context.Context, core.Fingerprint) error         { return nil }

// MemoryCache is a process-local SeenCache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[core.Fingerprint]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl uses DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[core.Fingerprint]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Seen(_ context.Context, fp core.Fingerprint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires, ok := c.entries[fp]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expires) {
		delete(c.entries, fp)
		return false, nil
	}
	return true, nil
}

func (c *MemoryCache) Mark(_ context.Context, fp core.Fingerprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[fp] = now.Add(c.ttl)
	if len(c.entries)%1024 == 0 {
		for k, exp := range c.entries {
			if !now.Before(exp) {
				delete(c.entries, k)
			}
		}
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
