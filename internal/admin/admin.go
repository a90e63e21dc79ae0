// Package admin implements the token-gated introspection endpoint
// (spec.md §6): GET /admin/stats returns aggregate job counters, cache
// hit/miss counters, and a small recent-jobs window. Grounded on the
// teacher's internal/httpapi route-handler shape (method-switch handlers,
// writeJSON/writeError helpers), adding the one guard the teacher never
// needed: a bearer-token check, in the same style as internal/llm/config.go's
// GetHeaders "Authorization": "Bearer " + apiKey construction.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mimelyc/yt-bilingual-proxy/internal/cache"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
)

const defaultRecentLimit = 20

// Server serves GET /admin/stats, gated by an optional bearer token.
type Server struct {
	store store.Store
	cache *cache.Cache
	token string

	mux *http.ServeMux
}

// NewServer builds the admin server. An empty token disables the guard
// entirely (spec.md §6: "guarded by a bearer token when configured").
func NewServer(s store.Store, c *cache.Cache, token string) *Server {
	srv := &Server{store: s, cache: c, token: token, mux: http.NewServeMux()}
	srv.mux.HandleFunc("/admin/stats", srv.handleStats)
	return srv
}

// Handler returns the http.Handler to mount, e.g. alongside the proxy
// server's mux or on a separate internal-only listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type statsResponse struct {
	JobCounts   map[store.JobStatus]int `json:"job_counts"`
	CacheHits   int64                    `json:"cache_hits"`
	CacheMisses int64                    `json:"cache_misses"`
	RecentJobs  []recentJob              `json:"recent_jobs"`
}

type recentJob struct {
	ID         string `json:"id"`
	VideoID    string `json:"video_id"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	UpdatedAt  int64  `json:"updated_at"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	resp, err := s.buildStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildStats(ctx context.Context) (statsResponse, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return statsResponse{}, err
	}
	hits, misses, err := s.cache.Stats(ctx)
	if err != nil {
		return statsResponse{}, err
	}
	jobs, err := s.store.RecentJobs(ctx, defaultRecentLimit)
	if err != nil {
		return statsResponse{}, err
	}

	recent := make([]recentJob, 0, len(jobs))
	for _, j := range jobs {
		recent = append(recent, recentJob{
			ID:         j.ID,
			VideoID:    j.Key.VideoID,
			SourceLang: j.Key.SourceLang,
			TargetLang: j.Key.TargetLang,
			Status:     string(j.Status),
			RetryCount: j.RetryCount,
			UpdatedAt:  j.UpdatedAt,
		})
	}

	return statsResponse{
		JobCounts:   counts,
		CacheHits:   hits,
		CacheMisses: misses,
		RecentJobs:  recent,
	}, nil
}

// authorized reports whether the request carries a valid bearer token. When
// no token is configured, the endpoint is open (spec.md §6: "when
// configured").
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == s.token
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{
		"error":   kind,
		"message": message,
	})
}
