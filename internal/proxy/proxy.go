// Package proxy implements the request dispatcher (C8): a single public
// endpoint that serves a cached bilingual subtitle track on repeat access
// and transparently passes through the original upstream track — plus an
// enqueue side effect — on first access (spec.md §4.8).
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mimelyc/yt-bilingual-proxy/internal/cache"
	"github.com/mimelyc/yt-bilingual-proxy/internal/fetch"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
	"github.com/mimelyc/yt-bilingual-proxy/internal/worker"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

const (
	defaultTargetLang = "zh-CN"
	defaultTrack      = "asr"
	defaultFormat     = subtitle.FormatJSON3
	maxLangLen        = 10
)

// Server is the C8 HTTP dispatcher.
type Server struct {
	cache   *cache.Cache
	fetcher *fetch.Fetcher
	pool    *worker.Pool

	sf singleflight.Group

	mux    *http.ServeMux
	server *http.Server
}

// NewServer wires a dispatcher against the cache, upstream fetcher and job
// worker it sits in front of.
func NewServer(c *cache.Cache, f *fetch.Fetcher, p *worker.Pool) *Server {
	s := &Server{
		cache:   c,
		fetcher: f,
		pool:    p,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/subtitle", s.handleSubtitle)
	s.mux.HandleFunc("/api/timedtext", s.handleSubtitle)
}

// ListenAndServe starts the HTTP server on addr, wiring in the same
// ReadHeaderTimeout hardening the teacher's httpapi.Server applies.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// computeSourceHash fingerprints the canonicalized parsed upstream cue list
// (spec.md §3.1: "not the raw bytes, to be insensitive to reformatting"),
// not the raw upstream response. Each cue canonicalizes to "start|end|text",
// joined by newlines, so whitespace, attribute-order, or encoding changes
// in the raw upstream bytes that don't change the cue list produce the
// same hash.
func computeSourceHash(cues []subtitle.Cue) string {
	var b strings.Builder
	for _, c := range cues {
		b.WriteString(strconv.FormatInt(c.StartMs, 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(c.EndMs, 10))
		b.WriteByte('|')
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func singleflightKey(key store.RequestKey, sourceHash string) string {
	return key.VideoID + "|" + key.SourceLang + "|" + key.TargetLang + "|" + key.Track + "|" + key.Fmt + "|" + sourceHash
}
