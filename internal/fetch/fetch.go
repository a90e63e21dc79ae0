// Package fetch retrieves raw subtitle tracks from YouTube's timed-text
// endpoint (spec.md §4.1) and normalizes them into cues via the subtitle
// codec dispatcher.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Request describes a single upstream timed-text fetch (spec.md §4.1).
type Request struct {
	VideoID string
	Lang    string
	Track   string // "asr" for auto-generated, "" for a human-authored track
	Fmt     subtitle.Format
}

// Result is a fetched track together with the raw bytes it was parsed
// from, so the caller can reply with the original upstream payload
// unchanged; the source hash is computed from the parsed cues, not from
// these bytes.
type Result struct {
	Track    *subtitle.Track
	RawBytes []byte
}

// Fetcher retrieves and parses tracks from the upstream timed-text
// endpoint.
//
// baseURL: overridable for tests; defaults to YouTube's timed-text host
// httpClient: client with a bounded timeout, never the zero-value default
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Config configures a Fetcher (spec.md §6 upstream fetch settings).
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// New creates a Fetcher with the given configuration.
func New(cfg Config) *Fetcher {
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.youtube.com/api/timedtext"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Fetcher{
		baseURL:    base,
		userAgent:  ua,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves a single track and parses it via the format dispatcher
// (spec.md §4.1, step "fetch upstream").
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	u, err := f.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("build upstream url: %w", err)
	}
	return f.fetchURL(ctx, u, req.Lang, req.VideoID, req.Fmt)
}

// FetchURL retrieves a track from a caller-supplied upstream URL instead of
// one built from baseURL (spec.md §4.8 optional `original_url` override, for
// a client that already resolved YouTube's exact signed timedtext URL).
func (f *Fetcher) FetchURL(ctx context.Context, rawURL, lang string, fmtHint subtitle.Format) (*Result, error) {
	return f.fetchURL(ctx, rawURL, lang, "", fmtHint)
}

func (f *Fetcher) fetchURL(ctx context.Context, u, lang, videoID string, fmtHint subtitle.Format) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("upstream request timed out: %w", err)
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream request failed with status %d", resp.StatusCode)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("upstream returned an empty track for video %q lang %q", videoID, lang)
	}

	format := fmtHint
	if format == "" {
		format = subtitle.Sniff(raw)
	}
	codec, err := subtitle.CodecFor(format)
	if err != nil {
		return nil, err
	}

	cues, err := codec.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %s track: %w", format, err)
	}

	return &Result{
		Track: &subtitle.Track{
			Cues:     cues,
			Format:   format,
			Language: lang,
		},
		RawBytes: raw,
	}, nil
}

func (f *Fetcher) buildURL(req Request) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("v", req.VideoID)
	q.Set("lang", req.Lang)
	if req.Track == "asr" {
		q.Set("kind", "asr")
	}
	if req.Fmt != "" {
		q.Set("fmt", string(req.Fmt))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
