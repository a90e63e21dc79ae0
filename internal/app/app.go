// Package app wires the proxy's components into one running process (C9,
// spec.md §4.9): store, cache, LLM client, translator, worker pool, proxy
// and admin HTTP handlers, and the cleanup cron, plus graceful shutdown.
// Grounded on the teacher's cmd/main.go top-level wiring shape and
// internal/httpapi/server.go's Shutdown(ctx) wrapping of
// http.Server.Shutdown.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mimelyc/yt-bilingual-proxy/internal/admin"
	"github.com/mimelyc/yt-bilingual-proxy/internal/cache"
	"github.com/mimelyc/yt-bilingual-proxy/internal/config"
	"github.com/mimelyc/yt-bilingual-proxy/internal/fetch"
	"github.com/mimelyc/yt-bilingual-proxy/internal/llm"
	"github.com/mimelyc/yt-bilingual-proxy/internal/proxy"
	"github.com/mimelyc/yt-bilingual-proxy/internal/segment"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
	"github.com/mimelyc/yt-bilingual-proxy/internal/translate"
	"github.com/mimelyc/yt-bilingual-proxy/internal/worker"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/icron"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// drainTimeout bounds how long Run waits for in-flight worker jobs to
// settle before closing the store on shutdown (spec.md §4.9: "wait briefly
// for in-flight jobs").
const drainTimeout = 5 * time.Second

// App is the root application object: one instance per process, built once
// at startup and torn down once on shutdown.
type App struct {
	cfg *config.Config

	store   *store.SQLiteStore
	cache   *cache.Cache
	fetcher *fetch.Fetcher
	pool    *worker.Pool

	proxyServer *proxy.Server
	adminServer *admin.Server
	httpServer  *http.Server
	cron        *cron.Cron
	cleanupSpec string

	startedAt time.Time
}

// New builds the App and all of its dependencies but does not yet start
// accepting connections or running jobs; call Run for that.
func New(cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c := cache.New(st, cfg.Cache.LRUMaxItems)

	fetcher := fetch.New(fetch.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		UserAgent: cfg.Fetch.UserAgent,
	})

	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	translator := translate.New(llmClient, translate.Config{
		SummaryEnabled:     cfg.Guidance.SummaryEnabled,
		SummaryMaxTokens:   cfg.Guidance.SummaryMaxTokens,
		SummaryChunkChars:  cfg.Guidance.SummaryChunkChars,
		GlossaryEnabled:    cfg.Guidance.GlossaryEnabled,
		GlossaryMaxTokens:  cfg.Guidance.GlossaryMaxTokens,
		GlossaryChunkChars: cfg.Guidance.GlossaryChunkChars,
		ContextEnabled:     cfg.Context.Enabled,
		BatchSize:          cfg.Context.BatchSize,
		PrecedingLines:     cfg.Context.PrecedingLines,
		FollowingLines:     cfg.Context.FollowingLines,
		Concurrency:        cfg.Context.Concurrency,
		BatchRetries:       cfg.Context.BatchRetries,
		MaxTokens:          cfg.Context.MaxTokens,
	})

	pool := worker.New(worker.Config{
		Concurrency: cfg.Queue.Concurrency,
		MaxRetries:  cfg.Queue.MaxRetries,
		RetryBaseMs: cfg.Queue.RetryBaseMs,
		TTLHours:    cfg.Cache.TTLHours,
		SegmentParams: segment.Params{
			MinDurationMs:  cfg.Segment.MinDurationMs,
			MaxDurationMs:  cfg.Segment.MaxDurationMs,
			GapThresholdMs: cfg.Segment.GapThresholdMs,
			MaxChars:       cfg.Segment.MaxChars,
			MaxWords:       cfg.Segment.MaxWords,
			OverlapGapMs:   cfg.Segment.SRV3OverlapGapMs,
		},
	}, st, c, fetcher, translator)

	proxyServer := proxy.NewServer(c, fetcher, pool)
	adminServer := admin.NewServer(st, c, cfg.System.AdminToken)

	a := &App{
		cfg:         cfg,
		store:       st,
		cache:       c,
		fetcher:     fetcher,
		pool:        pool,
		proxyServer: proxyServer,
		adminServer: adminServer,
		cron:        cron.New(),
		cleanupSpec: fmt.Sprintf("@every %dms", cfg.Cache.CleanupIntervalMs),
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", proxyServer.Handler())
	mux.Handle("/admin/", adminServer.Handler())
	mux.HandleFunc("/health", a.handleHealth)

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// Handler returns the combined HTTP handler (subtitle proxy, admin stats,
// health), useful for tests that don't want to bind a real listener.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the worker pool, the cleanup cron, and the HTTP server, then
// blocks until ctx is cancelled or a SIGINT/SIGTERM arrives, at which point
// it shuts everything down in reverse order of startup (spec.md §4.9).
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.startedAt = time.Now()

	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	if _, err := a.cron.AddFunc(a.cleanupSpec, a.runCleanup); err != nil {
		a.pool.Stop()
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	a.cron.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("app: listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("app: shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("app: http server failed: %v", err)
		}
		a.shutdown()
		return err
	}

	a.shutdown()
	return nil
}

// shutdown stops accepting new jobs, wraps the HTTP server down, drains
// the worker pool with a bounded wait, and closes the store (spec.md §4.9).
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("app: http shutdown error: %v", err)
	}

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(drainTimeout):
	}

	poolDone := make(chan struct{})
	go func() {
		a.pool.Stop()
		close(poolDone)
	}()
	select {
	case <-poolDone:
	case <-time.After(drainTimeout):
		log.Error("app: worker pool did not drain within %s", drainTimeout)
	}

	if err := a.store.Close(); err != nil {
		log.Error("app: store close error: %v", err)
	}
}

func (a *App) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	n, err := a.store.DeleteExpired(ctx, time.Now().UnixMilli())
	if err != nil {
		log.Error("app: cleanup sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Info("app: cleanup removed %d expired job(s)", n)
	}
}

type healthResponse struct {
	Status           string           `json:"status"`
	UptimeMs         int64            `json:"uptime_ms"`
	DB               string           `json:"db"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	HitRate          float64          `json:"hit_rate"`
	Queue            map[string]int64 `json:"queue"`
	LastCleanupMsAgo int64            `json:"last_cleanup_ms_ago,omitempty"`
	NextCleanupInMs  int64            `json:"next_cleanup_in_ms,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := a.store.Ping(r.Context()); err != nil {
		dbStatus = "unavailable"
	}

	hits, misses, err := a.cache.Stats(r.Context())
	if err != nil {
		dbStatus = "unavailable"
	}
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	counts, err := a.store.CountByStatus(r.Context())
	if err != nil {
		dbStatus = "unavailable"
	}
	queue := make(map[string]int64, len(counts))
	for status, n := range counts {
		queue[string(status)] = int64(n)
	}

	resp := healthResponse{
		Status:      "ok",
		UptimeMs:    time.Since(a.startedAt).Milliseconds(),
		DB:          dbStatus,
		CacheHits:   hits,
		CacheMisses: misses,
		HitRate:     hitRate,
		Queue:       queue,
	}
	if dbStatus != "ok" {
		resp.Status = "degraded"
	}

	if trigger, err := icron.GetTriggerInfo(a.cleanupSpec, time.Now()); err == nil {
		resp.LastCleanupMsAgo = trigger.TimeSinceLast.Milliseconds()
		resp.NextCleanupInMs = trigger.TimeUntilNext.Milliseconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
