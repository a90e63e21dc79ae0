package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
)

func TestFetcher_FetchParsesJSON3(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc123", r.URL.Query().Get("v"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[{"tStartMs":0,"dDurationMs":1000,"segs":[{"utf8":"hello"}]}]}`))
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	result, err := f.Fetch(t.Context(), Request{VideoID: "abc123", Lang: "en", Fmt: subtitle.FormatJSON3})
	require.NoError(t, err)
	require.Len(t, result.Track.Cues, 1)
	assert.Equal(t, "hello", result.Track.Cues[0].Text)
	assert.NotEmpty(t, result.RawBytes)
}

func TestFetcher_FetchSniffsFormatWhenUnspecified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nhi\n"))
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	result, err := f.Fetch(t.Context(), Request{VideoID: "abc123", Lang: "en"})
	require.NoError(t, err)
	assert.Equal(t, subtitle.FormatVTT, result.Track.Format)
	require.Len(t, result.Track.Cues, 1)
}

func TestFetcher_FetchErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := f.Fetch(t.Context(), Request{VideoID: "missing", Lang: "en"})
	require.Error(t, err)
}

func TestFetcher_FetchErrorsOnEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := f.Fetch(t.Context(), Request{VideoID: "abc123", Lang: "en"})
	require.Error(t, err)
}

func TestFetcher_AsrTrackSetsKindQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "asr", r.URL.Query().Get("kind"))
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	f := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := f.Fetch(t.Context(), Request{VideoID: "abc123", Lang: "en", Track: "asr", Fmt: subtitle.FormatJSON3})
	require.NoError(t, err)
}
