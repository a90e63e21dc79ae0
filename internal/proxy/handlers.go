package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mimelyc/yt-bilingual-proxy/internal/fetch"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// Error kinds surfaced to clients (spec.md §7). These are stable wire
// values, not Go type names.
const (
	errInvalidVideoID = "invalid_video_id"
	errInvalidLang    = "invalid_language"
	errYouTubeAPI     = "youtube_api_error"
	errInternal       = "internal_error"
)

// estimatedJobMs is the advisory X-Estimated-Time value sent on a miss; it
// is not tied to any real measurement, just a client-facing hint that a
// retry in a few seconds may observe a completed job.
const estimatedJobMs = 8000

func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errInternal, "method not allowed")
		return
	}

	q := r.URL.Query()
	videoID := q.Get("v")
	lang := q.Get("lang")
	tlang := q.Get("tlang")
	kind := q.Get("kind")
	fmtParam := q.Get("fmt")
	originalURL := q.Get("original_url")

	if !videoIDPattern.MatchString(videoID) {
		writeError(w, http.StatusBadRequest, errInvalidVideoID, "video id must match [A-Za-z0-9_-]{11}")
		return
	}
	if lang == "" || len(lang) > maxLangLen {
		writeError(w, http.StatusBadRequest, errInvalidLang, "lang is required and must be at most 10 characters")
		return
	}
	if tlang == "" {
		tlang = defaultTargetLang
	}
	if len(tlang) > maxLangLen {
		writeError(w, http.StatusBadRequest, errInvalidLang, "tlang must be at most 10 characters")
		return
	}
	if kind == "" {
		kind = defaultTrack
	}
	format, err := parseFormatOrDefault(fmtParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidLang, err.Error())
		return
	}

	key := store.RequestKey{
		VideoID:    videoID,
		SourceLang: lang,
		TargetLang: tlang,
		Track:      kind,
		Fmt:        string(format),
	}

	if s.serveFromCache(w, r, key, format) {
		return
	}

	s.serveMiss(w, r, key, originalURL, format)
}

// serveFromCache implements step 2: a cache hit re-renders the stored
// bilingual cues to whichever format this request asked for.
func (s *Server) serveFromCache(w http.ResponseWriter, r *http.Request, key store.RequestKey, format subtitle.Format) bool {
	job, found, err := s.cache.Lookup(r.Context(), key, "", time.Now().UnixMilli())
	if err != nil {
		log.Error("proxy: cache lookup failed for %s: %v", key.VideoID, err)
		return false
	}
	if !found {
		return false
	}

	cues, err := subtitle.DecodeCues(job.Bilingual)
	if err != nil {
		log.Error("proxy: failed to decode cached bilingual cues for job %s: %v", job.ID, err)
		return false
	}

	codec, err := subtitle.CodecFor(format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errInternal, err.Error())
		return true
	}
	rendered, err := codec.Render(cues)
	if err != nil {
		log.Error("proxy: failed to render cached job %s: %v", job.ID, err)
		return false
	}

	w.Header().Set("X-Translation-Status", "completed")
	w.Header().Set("X-Cache-Status", "HIT")
	w.Header().Set("X-Video-Id", key.VideoID)
	writeBody(w, format, rendered)
	return true
}

type missResult struct {
	RawBytes []byte
	Format   subtitle.Format
}

// serveMiss implements steps 3-6: fetch upstream, hash it, hand the job
// off to the worker pool, and reply with the untouched original track
// while translation proceeds in the background.
//
// Concurrent identical requests (same RequestKey) collapse onto a single
// upstream fetch + job submission via singleflight, per spec.md §8's
// single-flight testable property.
func (s *Server) serveMiss(w http.ResponseWriter, r *http.Request, key store.RequestKey, originalURL string, format subtitle.Format) {
	sfKey := singleflightKey(key, "")
	v, err, _ := s.sf.Do(sfKey, func() (any, error) {
		return s.fetchAndSubmit(r, key, originalURL, format)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, errYouTubeAPI, err.Error())
		return
	}

	result := v.(missResult)
	w.Header().Set("X-Translation-Status", "pending")
	w.Header().Set("X-Cache-Status", "MISS")
	w.Header().Set("X-Video-Id", key.VideoID)
	w.Header().Set("X-Estimated-Time", estimatedTimeHeader())
	writeBody(w, result.Format, result.RawBytes)
}

func (s *Server) fetchAndSubmit(r *http.Request, key store.RequestKey, originalURL string, format subtitle.Format) (missResult, error) {
	var result *fetch.Result
	var err error
	if originalURL != "" {
		result, err = s.fetcher.FetchURL(r.Context(), originalURL, key.SourceLang, format)
	} else {
		result, err = s.fetcher.Fetch(r.Context(), fetch.Request{
			VideoID: key.VideoID,
			Lang:    key.SourceLang,
			Track:   key.Track,
			Fmt:     format,
		})
	}
	if err != nil {
		return missResult{}, err
	}

	sourceHash := computeSourceHash(result.Track.Cues)
	if _, _, err := s.pool.Submit(r.Context(), key, sourceHash, key.Track, result.Track.Cues); err != nil {
		log.Error("proxy: failed to submit job for %s: %v", key.VideoID, err)
	}

	return missResult{RawBytes: result.RawBytes, Format: result.Track.Format}, nil
}

func parseFormatOrDefault(raw string) (subtitle.Format, error) {
	if raw == "" {
		return defaultFormat, nil
	}
	return subtitle.ParseFormat(raw)
}

func estimatedTimeHeader() string {
	return strconv.Itoa(estimatedJobMs / 1000)
}

func writeBody(w http.ResponseWriter, format subtitle.Format, body []byte) {
	w.Header().Set("Content-Type", contentTypeFor(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func contentTypeFor(format subtitle.Format) string {
	switch format {
	case subtitle.FormatVTT:
		return "text/vtt; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
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
