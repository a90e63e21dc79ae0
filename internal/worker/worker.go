// Package worker runs the translation job state machine (C7): a bounded
// pool of goroutines draining a buffered channel of job ids, moving each
// job through pending -> translating -> done|failed with exponential
// backoff on failure.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mimelyc/yt-bilingual-proxy/internal/cache"
	"github.com/mimelyc/yt-bilingual-proxy/internal/fetch"
	"github.com/mimelyc/yt-bilingual-proxy/internal/segment"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
	"github.com/mimelyc/yt-bilingual-proxy/internal/translate"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// Translator is the narrow interface worker needs from internal/translate,
// letting tests substitute a fake without spinning up an LLM client.
type Translator interface {
	Translate(ctx context.Context, lines []translate.Line, sourceLang, targetLang string) ([]string, error)
}

// Config controls backoff and concurrency (spec.md §6 queue settings).
type Config struct {
	Concurrency   int
	MaxRetries    int
	RetryBaseMs   int64
	SegmentParams segment.Params

	// TTLHours is the configured cache TTL (spec.md §6 `ttlHours`); a
	// submitted job's ExpiresAt is createdAt + this, per spec.md §3.1.
	TTLHours int
}

const defaultTTLHours = 24

func (c Config) ttlMs() int64 {
	hours := c.TTLHours
	if hours <= 0 {
		hours = defaultTTLHours
	}
	return int64(hours) * 3600 * 1000
}

// Pool is the C7 job worker.
type Pool struct {
	cfg        Config
	store      store.Store
	cache      *cache.Cache
	fetcher    *fetch.Fetcher
	translator Translator

	mu       sync.Mutex
	inFlight map[string]struct{}

	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// byJobID is consulted by the worker to turn a job id back into the
	// RequestKey+sourceHash it needs to run the pipeline; the dispatcher
	// populates it when it enqueues a job so the worker never has to guess
	// the upstream track kind from the id alone.
	mu2     sync.Mutex
	byJobID map[string]jobContext
	cues    map[string][]subtitle.Cue
}

type jobContext struct {
	key        store.RequestKey
	sourceHash string
	track      string
}

// New builds a worker pool against the given dependencies.
func New(cfg Config, s store.Store, c *cache.Cache, f *fetch.Fetcher, tr Translator) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseMs <= 0 {
		cfg.RetryBaseMs = 1000
	}
	return &Pool{
		cfg:        cfg,
		store:      s,
		cache:      c,
		fetcher:    f,
		translator: tr,
		inFlight:   make(map[string]struct{}),
		byJobID:    make(map[string]jobContext),
		cues:       make(map[string][]subtitle.Cue),
		pendingIDs: make(chan string, 1024),
		stopCh:     make(chan struct{}),
	}
}

func inFlightKey(key store.RequestKey, sourceHash string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", key.VideoID, key.SourceLang, key.TargetLang, key.Track, key.Fmt, sourceHash)
}

// Start resets any stranded `translating` rows back to `pending`
// (spec.md §4.9 restart semantics), re-enqueues them, and starts the
// worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	stranded, err := p.store.LoadRunning(ctx)
	if err != nil {
		return fmt.Errorf("load running jobs on startup: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, job := range stranded {
		job.Status = store.JobPending
		job.UpdatedAt = now
		if err := p.store.UpsertJob(ctx, job); err != nil {
			log.Error("worker: failed to reset stranded job %s to pending: %v", job.ID, err)
			continue
		}
		p.registerJobContext(job)
		p.enqueue(job.ID)
	}

	for range p.cfg.Concurrency {
		p.wg.Add(1)
		go p.run()
	}

	p.wg.Add(1)
	go p.retryScanLoop()
	return nil
}

// retryScanLoop is a backstop for the per-job backoff timer markFailed
// starts: if the process restarts mid-backoff that timer is lost, but the
// row's nextRetryAt survives in the store, so a periodic sweep of
// DueForRetry re-enqueues anything markFailed never got to.
const retryScanInterval = 5 * time.Second

func (p *Pool) retryScanLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(retryScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scanDueRetries()
		}
	}
}

func (p *Pool) scanDueRetries() {
	ctx, cancel := context.WithTimeout(context.Background(), retryScanInterval)
	defer cancel()

	due, err := p.store.DueForRetry(ctx, time.Now().UnixMilli(), 100)
	if err != nil {
		log.Error("worker: retry scan failed: %v", err)
		return
	}
	for _, job := range due {
		p.mu2.Lock()
		_, tracked := p.byJobID[job.ID]
		p.mu2.Unlock()
		if tracked {
			continue
		}
		p.registerJobContext(job)
		p.enqueue(job.ID)
	}
}

// Stop signals workers to exit and waits for in-flight jobs to notice.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// Submit creates (or reuses, via the store's unique index) a pending job
// row for key+sourceHash and enqueues it, unless one is already in flight
// (spec.md §4.7 "Picking").
func (p *Pool) Submit(ctx context.Context, key store.RequestKey, sourceHash string, track string, cues []subtitle.Cue) (*store.Job, bool, error) {
	flightKey := inFlightKey(key, sourceHash)

	p.mu.Lock()
	if _, exists := p.inFlight[flightKey]; exists {
		p.mu.Unlock()
		existing, found, err := p.store.FindActive(ctx, key, sourceHash)
		if err != nil || !found {
			return nil, false, err
		}
		return existing, false, nil
	}
	p.inFlight[flightKey] = struct{}{}
	p.mu.Unlock()

	existing, found, err := p.store.FindActive(ctx, key, sourceHash)
	if err != nil {
		p.releaseInFlight(flightKey)
		return nil, false, err
	}
	if found {
		p.releaseInFlight(flightKey)
		return existing, false, nil
	}

	now := time.Now().UnixMilli()
	job := &store.Job{
		ID:         jobID(key, sourceHash),
		Key:        key,
		SourceHash: sourceHash,
		Status:     store.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now + p.cfg.ttlMs(),
	}
	if err := p.store.UpsertJob(ctx, job); err != nil {
		p.releaseInFlight(flightKey)
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	p.registerJobContext(job)
	p.storeCues(job.ID, cues)
	p.enqueue(job.ID)
	return job, true, nil
}

func jobID(key store.RequestKey, sourceHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s", key.VideoID, key.SourceLang, key.TargetLang, key.Track, key.Fmt, sourceHash)
}

func (p *Pool) registerJobContext(job *store.Job) {
	p.mu2.Lock()
	p.byJobID[job.ID] = jobContext{key: job.Key, sourceHash: job.SourceHash, track: job.Key.Track}
	p.mu2.Unlock()
}

func (p *Pool) enqueue(id string) {
	select {
	case p.pendingIDs <- id:
	default:
		go func() { p.pendingIDs <- id }()
	}
}

func (p *Pool) releaseInFlight(flightKey string) {
	p.mu.Lock()
	delete(p.inFlight, flightKey)
	p.mu.Unlock()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case id := <-p.pendingIDs:
			p.process(id)
		}
	}
}
