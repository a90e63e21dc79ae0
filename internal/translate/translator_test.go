package translate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimelyc/yt-bilingual-proxy/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := llm.NewClient(&llm.Config{
		APIKey:      "test-key",
		APIURL:      srv.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     5,
	})
	require.NoError(t, err)
	return client
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id": "r1", "object": "chat.completion", "created": 1, "model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	})
	return string(body)
}

func TestTranslator_BatchTranslateHappyPath(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse(`[{"id":0,"translation":"你好"},{"id":1,"translation":"世界"}]`)))
	})

	tr := New(client, Config{ContextEnabled: true, BatchSize: 10, Concurrency: 1, BatchRetries: 1, MaxTokens: 100})
	out, err := tr.Translate(t.Context(), []Line{{Index: 0, Text: "hello"}, {Index: 1, Text: "world"}}, "en", "zh")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "你好", out[0])
	assert.Equal(t, "世界", out[1])
}

func TestTranslator_PreservesOrderAcrossBatches(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		prompt := req.Messages[len(req.Messages)-1].Content

		// Respond according to which indices are present in the prompt, so
		// batches interleave regardless of dispatch order.
		var entries []string
		for i := 0; i < 6; i++ {
			tag := "[" + strconv.Itoa(i) + "]"
			if strings.Contains(prompt, tag) {
				entries = append(entries, `{"id":`+strconv.Itoa(i)+`,"translation":"T`+strconv.Itoa(i)+`"}`)
			}
		}
		_, _ = w.Write([]byte(chatResponse("[" + strings.Join(entries, ",") + "]")))
	})

	tr := New(client, Config{ContextEnabled: true, BatchSize: 2, Concurrency: 4, BatchRetries: 1, MaxTokens: 100})
	lines := make([]Line, 6)
	for i := range lines {
		lines[i] = Line{Index: i, Text: "line" + strconv.Itoa(i)}
	}
	out, err := tr.Translate(t.Context(), lines, "en", "zh")
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i := range out {
		assert.Equal(t, "T"+strconv.Itoa(i), out[i])
	}
}

func TestTranslator_FallsBackToPerLineOnPersistentBatchFailure(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			// Batch attempts: malformed JSON every time.
			_, _ = w.Write([]byte(chatResponse("not json at all")))
			return
		}
		// Per-line fallback calls: echo a translated marker.
		_, _ = w.Write([]byte(chatResponse("TRANSLATED")))
	})

	tr := New(client, Config{ContextEnabled: true, BatchSize: 10, Concurrency: 1, BatchRetries: 1, MaxTokens: 100})
	out, err := tr.Translate(t.Context(), []Line{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}, "en", "zh")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "TRANSLATED", out[0])
	assert.Equal(t, "TRANSLATED", out[1])
}

func TestTranslator_PerLineFallbackKeepsOriginalOnTotalFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(chatResponse("")))
	})

	tr := New(client, Config{ContextEnabled: true, BatchSize: 10, Concurrency: 1, BatchRetries: 0, MaxTokens: 100})
	out, err := tr.Translate(t.Context(), []Line{{Index: 0, Text: "hello"}}, "en", "zh")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0])
}

func TestTranslator_SimpleModeTranslatesOneCuePerCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse("translated")))
	})

	tr := New(client, Config{ContextEnabled: false, Concurrency: 2})
	out, err := tr.Translate(t.Context(), []Line{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}, {Index: 2, Text: "c"}}, "en", "zh")
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, tr := range out {
		assert.Equal(t, "translated", tr)
	}
}

func TestParseBatchResponse_StripsCodeFences(t *testing.T) {
	entries, err := parseBatchResponse("```json\n[{\"id\":0,\"translation\":\"hi\"}]\n```")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Translation)
}

func TestParseBatchResponse_RejectsEmptyTranslation(t *testing.T) {
	_, err := parseBatchResponse(`[{"id":0,"translation":""}]`)
	assert.Error(t, err)
}

func TestChunkLines_RespectsMaxChars(t *testing.T) {
	lines := []Line{{Index: 0, Text: "aaaaa"}, {Index: 1, Text: "bbbbb"}, {Index: 2, Text: "ccccc"}}
	chunks := chunkLines(lines, 10)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 1)
}
