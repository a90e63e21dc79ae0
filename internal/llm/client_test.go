package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	config := &Config{
		APIKey:      "test-key",
		APIURL:      "https://api.example.com",
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, config, client.config)
	assert.Equal(t, config.APIURL, client.baseURL)
	assert.NotNil(t, client.httpClient)

	invalidConfig := &Config{} // Missing API key
	_, err = NewClient(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestClientWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		response := `{
			"id": "test-id",
			"object": "chat.completion",
			"created": 1234567890,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Hello! This is a test response."
				},
				"finish_reason": "stop"
			}],
			"usage": {
				"prompt_tokens": 10,
				"completion_tokens": 20,
				"total_tokens": 30
			}
		}`
		_, _ = w.Write([]byte(response))
	}))
	defer server.Close()

	config := &Config{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()
	messages := []Message{
		{Role: "user", Content: "Hello, how are you?"},
	}

	response, err := client.ChatCompletion(ctx, messages, nil)
	require.NoError(t, err)
	assert.NotNil(t, response)
	assert.Equal(t, "test-id", response.ID)
	assert.Equal(t, "test-model", response.Model)
	assert.Len(t, response.Choices, 1)
	assert.Equal(t, "Hello! This is a test response.", response.Choices[0].Message.Content)
	assert.Equal(t, 30, response.Usage.TotalTokens)
}

func TestClientErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)

		response := `{
			"error": {
				"message": "Invalid API key",
				"type": "authentication_error",
				"code": "401"
			}
		}`
		_, _ = w.Write([]byte(response))
	}))
	defer server.Close()

	config := &Config{
		APIKey:      "invalid-key",
		APIURL:      server.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()
	messages := []Message{
		{Role: "user", Content: "Hello"},
	}

	response, err := client.ChatCompletion(ctx, messages, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	if response != nil && response.Error != nil {
		assert.Equal(t, "Invalid API key", response.Error.Message)
	}
}

func TestSimpleChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := `{
			"id": "test-id",
			"object": "chat.completion",
			"created": 1234567890,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Simple chat response"
				},
				"finish_reason": "stop"
			}],
			"usage": {
				"prompt_tokens": 5,
				"completion_tokens": 10,
				"total_tokens": 15
			}
		}`
		_, _ = w.Write([]byte(response))
	}))
	defer server.Close()

	config := &Config{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()
	response, err := client.SimpleChat(ctx, "Hello", "You are a helpful assistant")

	require.NoError(t, err)
	assert.Equal(t, "Simple chat response", response)
}

func TestClientConcurrentRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := `{
			"id": "test-id",
			"object": "chat.completion",
			"created": 1234567890,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Response"
				},
				"finish_reason": "stop"
			}],
			"usage": {
				"prompt_tokens": 5,
				"completion_tokens": 5,
				"total_tokens": 10
			}
		}`
		_, _ = w.Write([]byte(response))
	}))
	defer server.Close()

	config := &Config{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()
	messages := []Message{
		{Role: "user", Content: "Hello"},
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ChatCompletion(ctx, messages, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestInvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	config := &Config{
		APIKey:      "test-key",
		APIURL:      server.URL,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()
	messages := []Message{
		{Role: "user", Content: "Hello"},
	}

	_, err = client.ChatCompletion(ctx, messages, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

const (
	defaultAPIURL = "https://openrouter.ai/api/v1"
	defaultModel  = "google/gemini-2.5-flash"
)

// TestOpenRouterIntegration tests actual connection to an OpenRouter-compatible
// endpoint. Skipped unless LLM_API_KEY is set.
func TestOpenRouterIntegration(t *testing.T) {
	_ = godotenv.Load("./.env")
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		t.Skip("Set LLM_API_KEY environment variable to run this test")
	}

	config := &Config{
		APIKey:      apiKey,
		APIURL:      defaultAPIURL,
		Model:       defaultModel,
		MaxTokens:   100,
		Temperature: 0.3,
		Timeout:     30,
	}

	client, err := NewClient(config)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("SimpleChat", func(t *testing.T) {
		response, err := client.SimpleChat(ctx, "Hello, can you hear me?", "You are a helpful assistant. Reply briefly.")
		assert.NoError(t, err)
		assert.NotEmpty(t, response)
		assert.Contains(t, strings.ToLower(response), "hello")
	})

	t.Run("ChatCompletion", func(t *testing.T) {
		messages := []Message{
			{Role: "user", Content: "What is 2+2?"},
		}

		response, err := client.ChatCompletion(ctx, messages, nil)
		assert.NoError(t, err)
		assert.NotNil(t, response)
		assert.Len(t, response.Choices, 1)
		assert.NotEmpty(t, response.Choices[0].Message.Content)
		assert.Contains(t, response.Choices[0].Message.Content, "4")
	})
}
