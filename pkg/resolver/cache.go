package resolver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"media-resolver-go/pkg/types"
)

// DefaultCacheTTL is how long a successful resolution is reused.
const DefaultCacheTTL = 2 * time.Minute

// Cache memoizes resolutions per media key and de-duplicates concurrent
// resolutions of the same key.
type Cache struct {
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	entries map[types.MediaKey]types.CachedResolution

	now func() time.Time
}

// NewCache creates a cache. A non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[types.MediaKey]types.CachedResolution),
		now:     time.Now,
	}
}

// Get returns a fresh cached source.
func (c *Cache) Get(key types.MediaKey) (*types.PlaybackSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(entry) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.Source, true
}

// Put stores a source.
func (c *Cache) Put(key types.MediaKey, src *types.PlaybackSource) {
	if src == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = types.CachedResolution{Source: src, StoredAtMillis: c.now().UnixMilli()}
}

// Invalidate drops the entry for key so the next call resolves again.
func (c *Cache) Invalidate(key types.MediaKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(entry types.CachedResolution) bool {
	return c.now().UnixMilli()-entry.StoredAtMillis >= c.ttl.Milliseconds()
}

// Lookup describes how Do produced its result.
type Lookup int

const (
	// LookupMiss means this caller ran the resolution.
	LookupMiss Lookup = iota
	// LookupHit means the result came from the memo.
	LookupHit
	// LookupJoined means one resolution served several concurrent callers.
	LookupJoined
)

// Do returns the cached source for key, joins an in-flight resolution of
// the same key, or runs fn. fn runs detached from the caller's cancellation
// so joiners are not failed by the first caller leaving; a successful result
// is stored before the flight completes. A caller whose ctx ends stops
// waiting and gets ctx.Err().
func (c *Cache) Do(ctx context.Context, key types.MediaKey, fn func(context.Context) (*types.PlaybackSource, error)) (*types.PlaybackSource, Lookup, error) {
	if src, ok := c.Get(key); ok {
		return src, LookupHit, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(key), func() (any, error) {
		// A flight that finished between Get and DoChan already stored its result.
		if src, ok := c.Get(key); ok {
			return src, nil
		}
		src, err := fn(detached)
		if err != nil {
			return nil, err
		}
		c.Put(key, src)
		return src, nil
	})

	select {
	case res := <-ch:
		lookup := LookupMiss
		if res.Shared {
			lookup = LookupJoined
		}
		if res.Err != nil {
			return nil, lookup, res.Err
		}
		return res.Val.(*types.PlaybackSource), lookup, nil
	case <-ctx.Done():
		return nil, LookupMiss, ctx.Err()
	}
}
