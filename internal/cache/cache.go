// Package cache implements the two-layer lookup in front of subtitle
// translation jobs (spec.md §4.4): a bounded in-memory LRU keyed by the
// exact (RequestKey, sourceHash) pair, backed by the SQLite store which can
// still answer "is there ANY done translation for this RequestKey" even
// after the memory entry has been evicted or the process restarted.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
)

// Entry is what the memory layer stores for a completed translation.
type Entry struct {
	Job *store.Job
}

type entryKey struct {
	store.RequestKey
	SourceHash string
}

// Cache is the two-layer lookup. The memory layer is a bounded LRU guarded
// by a mutex; the store layer is whatever persistence the worker pool also
// writes through.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[entryKey]*list.Element

	// latest tracks, per bare RequestKey, the sourceHash most recently
	// promoted into memory. A caller that does not know the current
	// sourceHash (the common case: a repeat request for a video whose
	// content may or may not have changed) passes "" to Lookup, which
	// resolves it through this index instead of always falling through to
	// the store.
	latest map[store.RequestKey]string

	store store.Store
}

type listEntry struct {
	key   entryKey
	entry Entry
}

// New builds a cache with the given in-memory capacity (entries, not
// bytes — spec.md §4.4 leaves the unit to the implementation) fronting s.
func New(s store.Store, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[entryKey]*list.Element),
		latest:   make(map[store.RequestKey]string),
		store:    s,
	}
}

// Lookup implements the two-layer read path. A caller that already knows
// the exact sourceHash it wants passes it; a caller that only knows the
// bare RequestKey (the common case — spec.md §4.8 looks up a cache entry
// before it has fetched upstream and so cannot know the current hash)
// passes "" and Lookup resolves the most recently promoted hash for that
// key from memory before ever touching the store. On any memory miss it
// asks the store for the most recent done job for key regardless of
// sourceHash, and on a store hit promotes the result into memory keyed by
// the hash it actually found (spec.md §4.4, "store layer" rule).
func (c *Cache) Lookup(ctx context.Context, key store.RequestKey, sourceHash string, now int64) (*store.Job, bool, error) {
	hash := sourceHash
	if hash == "" {
		hash = c.latestHash(key)
	}
	if hash != "" {
		if job, ok := c.getMemory(entryKey{key, hash}); ok {
			if job.ExpiresAt != 0 && job.ExpiresAt < now {
				c.Invalidate(key, hash)
			} else {
				c.incr(ctx, "cache_hits")
				return job, true, nil
			}
		}
	}

	job, ok, err := c.store.MostRecentDone(ctx, key, now)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.incr(ctx, "cache_misses")
		return nil, false, nil
	}

	c.putMemory(entryKey{key, job.SourceHash}, Entry{Job: job})
	c.incr(ctx, "cache_hits")
	return job, true, nil
}

// Put inserts a freshly completed job into the memory layer. The store
// write is the worker's responsibility (it owns the row of record); Put
// only warms the fast path so the next request for this exact hash avoids
// the store round trip.
func (c *Cache) Put(job *store.Job) {
	if job == nil {
		return
	}
	c.putMemory(entryKey{job.Key, job.SourceHash}, Entry{Job: job})
}

// Invalidate removes an exact (key, sourceHash) entry from memory, used
// when a job transitions out of done (e.g. re-translation after upstream
// content changed).
func (c *Cache) Invalidate(key store.RequestKey, sourceHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := entryKey{key, sourceHash}
	if el, ok := c.items[k]; ok {
		c.ll.Remove(el)
		delete(c.items, k)
	}
	if c.latest[key] == sourceHash {
		delete(c.latest, key)
	}
}

// Stats returns the persisted hit/miss counters for the health endpoint.
func (c *Cache) Stats(ctx context.Context) (hits, misses int64, err error) {
	hits, err = c.store.MetadataCounter(ctx, "cache_hits")
	if err != nil {
		return 0, 0, err
	}
	misses, err = c.store.MetadataCounter(ctx, "cache_misses")
	if err != nil {
		return 0, 0, err
	}
	return hits, misses, nil
}

func (c *Cache) incr(ctx context.Context, key string) {
	// Counter persistence is best-effort observability, never a request
	// path blocker.
	_, _ = c.store.IncrMetadataCounter(ctx, key)
}

func (c *Cache) getMemory(k entryKey) (*store.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*listEntry).entry.Job, true
}

func (c *Cache) latestHash(key store.RequestKey) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest[key]
}

func (c *Cache) putMemory(k entryKey, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest[k.RequestKey] = k.SourceHash

	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*listEntry).entry = e
		return
	}

	el := c.ll.PushFront(&listEntry{key: k, entry: e})
	c.items[k] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*listEntry).key)
	}
}
