package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
)

// fakeStore is a minimal in-memory store.Store for exercising the cache's
// two-layer lookup logic without SQLite.
type fakeStore struct {
	jobs     map[string]*store.Job
	counters map[string]int64
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*store.Job), counters: make(map[string]int64)}
}

func (f *fakeStore) UpsertJob(ctx context.Context, job *store.Job) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) FindActive(ctx context.Context, key store.RequestKey, sourceHash string) (*store.Job, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) MostRecentDone(ctx context.Context, key store.RequestKey, now int64) (*store.Job, bool, error) {
	f.calls++
	var best *store.Job
	for _, j := range f.jobs {
		if j.Key != key || j.Status != store.JobDone || j.ExpiresAt < now {
			continue
		}
		if best == nil || j.UpdatedAt > best.UpdatedAt {
			best = j
		}
	}
	return best, best != nil, nil
}

func (f *fakeStore) DueForRetry(ctx context.Context, now int64, limit int) ([]*store.Job, error) {
	return nil, nil
}
func (f *fakeStore) LoadRunning(ctx context.Context) ([]*store.Job, error) { return nil, nil }

func (f *fakeStore) DeleteExpired(ctx context.Context, now int64) (int64, error) { return 0, nil }

func (f *fakeStore) DeleteJob(ctx context.Context, jobID string) error {
	delete(f.jobs, jobID)
	return nil
}
func (f *fakeStore) ListByVideo(ctx context.Context, videoID string) ([]*store.Job, error) {
	return nil, nil
}
func (f *fakeStore) RecentJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	return nil, nil
}
func (f *fakeStore) CountByStatus(ctx context.Context) (map[store.JobStatus]int, error) {
	return nil, nil
}

func (f *fakeStore) IncrMetadataCounter(ctx context.Context, key string) (int64, error) {
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeStore) MetadataCounter(ctx context.Context, key string) (int64, error) {
	return f.counters[key], nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

var _ store.Store = (*fakeStore)(nil)

func sampleKey() store.RequestKey {
	return store.RequestKey{VideoID: "v1", SourceLang: "en", TargetLang: "zh", Fmt: "json3"}
}

func TestCache_MemoryHitAvoidsStoreCall(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, 16)
	job := &store.Job{ID: "j1", Key: sampleKey(), SourceHash: "h1", Status: store.JobDone, UpdatedAt: 5, ExpiresAt: 9999}
	c.Put(job)

	got, ok, err := c.Lookup(context.Background(), sampleKey(), "h1", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", got.ID)
	assert.Equal(t, 0, fs.calls)
}

func TestCache_StoreFallbackPromotesToMemory(t *testing.T) {
	fs := newFakeStore()
	job := &store.Job{ID: "j1", Key: sampleKey(), SourceHash: "h-stored", Status: store.JobDone, UpdatedAt: 5, ExpiresAt: 9999}
	fs.jobs[job.ID] = job
	c := New(fs, 16)

	got, ok, err := c.Lookup(context.Background(), sampleKey(), "h-requested", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h-stored", got.SourceHash)
	assert.Equal(t, 1, fs.calls)

	// Second lookup with the hash the store actually returned should hit memory.
	_, ok, err = c.Lookup(context.Background(), sampleKey(), "h-stored", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, fs.calls, "promoted entry should serve from memory")
}

func TestCache_EmptyHashResolvesLatestFromMemory(t *testing.T) {
	fs := newFakeStore()
	job := &store.Job{ID: "j1", Key: sampleKey(), SourceHash: "h-stored", Status: store.JobDone, UpdatedAt: 5, ExpiresAt: 9999}
	fs.jobs[job.ID] = job
	c := New(fs, 16)

	// First lookup (caller doesn't know the hash) falls through to the store
	// and promotes the result.
	got, ok, err := c.Lookup(context.Background(), sampleKey(), "", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h-stored", got.SourceHash)
	assert.Equal(t, 1, fs.calls)

	// Second empty-hash lookup should resolve the latest known hash from
	// memory and never touch the store again.
	got, ok, err = c.Lookup(context.Background(), sampleKey(), "", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h-stored", got.SourceHash)
	assert.Equal(t, 1, fs.calls, "second lookup should serve from memory via the latest-hash index")
}

func TestCache_MissWhenStoreHasNothing(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, 16)

	_, ok, err := c.Lookup(context.Background(), sampleKey(), "h1", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, 2)

	k1, k2, k3 := sampleKey(), sampleKey(), sampleKey()
	k1.Track, k2.Track, k3.Track = "a", "b", "c"
	c.Put(&store.Job{ID: "a", Key: k1, SourceHash: "h", Status: store.JobDone, ExpiresAt: 9999})
	c.Put(&store.Job{ID: "b", Key: k2, SourceHash: "h", Status: store.JobDone, ExpiresAt: 9999})

	// touch "a" so "b" becomes the least recently used.
	_, ok, _ := c.Lookup(context.Background(), k1, "h", 0)
	require.True(t, ok)

	c.Put(&store.Job{ID: "c", Key: k3, SourceHash: "h", Status: store.JobDone, ExpiresAt: 9999})

	_, ok, err := c.Lookup(context.Background(), k2, "h", 0)
	require.NoError(t, err)
	assert.False(t, ok, "b should have been evicted")
}

func TestCache_Invalidate(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, 16)
	job := &store.Job{ID: "j1", Key: sampleKey(), SourceHash: "h1", Status: store.JobDone, ExpiresAt: 9999}
	c.Put(job)

	c.Invalidate(sampleKey(), "h1")

	_, ok, err := c.Lookup(context.Background(), sampleKey(), "h1", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_StatsReflectsCounters(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, 16)
	job := &store.Job{ID: "j1", Key: sampleKey(), SourceHash: "h1", Status: store.JobDone, ExpiresAt: 9999}
	c.Put(job)

	_, _, _ = c.Lookup(context.Background(), sampleKey(), "h1", 0)
	_, _, _ = c.Lookup(context.Background(), sampleKey(), "nope", 0)

	hits, misses, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
