// Package config holds all application configuration for the subtitle
// proxy. Supports environment variables with sensible defaults, following
// the teacher's env-var-with-default idiom.
//
// Environment Variables:
//
// HTTP:
// - PORT: HTTP listen port (default: 8080)
//
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-3.5-turbo)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 2000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 30)
// - LLM_SITE_URL / LLM_APP_NAME: optional referer/title headers
//
// Translation defaults:
// - SOURCE_LANG / TARGET_LANG: default source/target language codes
//
// Guidance (summary + glossary):
// - SUMMARY_ENABLED / SUMMARY_MAX_TOKENS / SUMMARY_CHUNK_CHARS
// - GLOSSARY_ENABLED / GLOSSARY_MAX_TOKENS / GLOSSARY_CHUNK_CHARS
//
// Context translation:
// - CONTEXT_ENABLED / CONTEXT_BATCH_SIZE / CONTEXT_PRECEDING_LINES /
//   CONTEXT_FOLLOWING_LINES / CONTEXT_CONCURRENCY / CONTEXT_BATCH_RETRIES /
//   CONTEXT_MAX_TOKENS
//
// Queue:
// - QUEUE_CONCURRENCY / QUEUE_MAX_RETRIES / QUEUE_RETRY_BASE_MS
//
// Cache:
// - CACHE_TTL_HOURS / CACHE_LRU_MAX_ITEMS / CACHE_CLEANUP_INTERVAL_MS
//
// Segmenter:
// - SEGMENT_MIN_DURATION_MS / SEGMENT_MAX_DURATION_MS / SEGMENT_GAP_MS /
//   SEGMENT_MAX_CHARS / SEGMENT_MAX_WORDS / SEGMENT_SRV3_OVERLAP_GAP_MS
//
// Upstream fetch:
// - FETCH_TIMEOUT_SECONDS / FETCH_BASE_URL / FETCH_USER_AGENT
//
// Storage & admin:
// - DATA_DIR: directory holding the jobs database (default: /app/data)
// - ADMIN_TOKEN: bearer token guarding GET /admin/stats (optional)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// Config holds all application configuration.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Guidance  GuidanceConfig  `json:"guidance"`
	Context   ContextConfig   `json:"context"`
	Queue     QueueConfig     `json:"queue"`
	Cache     CacheConfig     `json:"cache"`
	Segment   SegmentConfig   `json:"segment"`
	Fetch     FetchConfig     `json:"fetch"`
	System    SystemConfig    `json:"system"`
}

// HTTPConfig controls the listen address of the public proxy server.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// LLMConfig holds the configuration for the LLM client. Supports any
// OpenAI-chat-style provider (OpenRouter, OpenAI, Anthropic-compatible
// gateways, etc.) via a configurable base URL.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// TranslateConfig holds the default source/target language pair applied
// when a request omits them.
type TranslateConfig struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// GuidanceConfig controls the optional summary/glossary passes (spec.md §6).
type GuidanceConfig struct {
	SummaryEnabled     bool `json:"summary_enabled"`
	SummaryMaxTokens   int  `json:"summary_max_tokens"`
	SummaryChunkChars  int  `json:"summary_chunk_chars"`
	GlossaryEnabled    bool `json:"glossary_enabled"`
	GlossaryMaxTokens  int  `json:"glossary_max_tokens"`
	GlossaryChunkChars int  `json:"glossary_chunk_chars"`
}

// ContextConfig controls the sliding-window batched translation pass.
type ContextConfig struct {
	Enabled        bool `json:"enabled"`
	BatchSize      int  `json:"batch_size"`
	PrecedingLines int  `json:"preceding_lines"`
	FollowingLines int  `json:"following_lines"`
	Concurrency    int  `json:"concurrency"`
	BatchRetries   int  `json:"batch_retries"`
	MaxTokens      int  `json:"max_tokens"`
}

// QueueConfig controls the job worker pool (C7).
type QueueConfig struct {
	Concurrency int   `json:"concurrency"`
	MaxRetries  int   `json:"max_retries"`
	RetryBaseMs int64 `json:"retry_base_ms"`
}

// CacheConfig controls the two-layer cache and its cleanup ticker (C4/C3).
type CacheConfig struct {
	TTLHours          int `json:"ttl_hours"`
	LRUMaxItems       int `json:"lru_max_items"`
	CleanupIntervalMs int `json:"cleanup_interval_ms"`
}

// SegmentConfig controls the paragraph segmenter (C2).
type SegmentConfig struct {
	MinDurationMs    int64 `json:"min_duration_ms"`
	MaxDurationMs    int64 `json:"max_duration_ms"`
	GapThresholdMs   int64 `json:"segment_gap_ms"`
	MaxChars         int   `json:"segment_max_chars"`
	MaxWords         int   `json:"segment_max_words"`
	SRV3OverlapGapMs int64 `json:"srv3_overlap_gap_ms"`
}

// FetchConfig controls the upstream YouTube fetcher (C5).
type FetchConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	BaseURL        string `json:"base_url"`
	UserAgent      string `json:"user_agent"`
}

// SystemConfig holds storage and admin-surface configuration.
type SystemConfig struct {
	DataDir    string `json:"data_dir"`
	AdminToken string `json:"admin_token"`
}

// DBPath returns the path to the SQLite jobs database inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "subtitle-proxy.db")
}

// Option is a function type for configuring Config.
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr: ":" + getEnvString("PORT", "8080"),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-3.5-turbo"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 30),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", "yt-bilingual-proxy"),
		},
		Translate: TranslateConfig{
			SourceLanguage: getEnvString("SOURCE_LANG", "en"),
			TargetLanguage: getEnvString("TARGET_LANG", "zh-CN"),
		},
		Guidance: GuidanceConfig{
			SummaryEnabled:     getEnvBool("SUMMARY_ENABLED", true),
			SummaryMaxTokens:   getEnvInt("SUMMARY_MAX_TOKENS", 500),
			SummaryChunkChars:  getEnvInt("SUMMARY_CHUNK_CHARS", 8000),
			GlossaryEnabled:    getEnvBool("GLOSSARY_ENABLED", true),
			GlossaryMaxTokens:  getEnvInt("GLOSSARY_MAX_TOKENS", 500),
			GlossaryChunkChars: getEnvInt("GLOSSARY_CHUNK_CHARS", 8000),
		},
		Context: ContextConfig{
			Enabled:        getEnvBool("CONTEXT_ENABLED", true),
			BatchSize:      getEnvInt("CONTEXT_BATCH_SIZE", 8),
			PrecedingLines: getEnvInt("CONTEXT_PRECEDING_LINES", 3),
			FollowingLines: getEnvInt("CONTEXT_FOLLOWING_LINES", 3),
			Concurrency:    getEnvInt("CONTEXT_CONCURRENCY", 4),
			BatchRetries:   getEnvInt("CONTEXT_BATCH_RETRIES", 2),
			MaxTokens:      getEnvInt("CONTEXT_MAX_TOKENS", 2000),
		},
		Queue: QueueConfig{
			Concurrency: getEnvInt("QUEUE_CONCURRENCY", 4),
			MaxRetries:  getEnvInt("QUEUE_MAX_RETRIES", 5),
			RetryBaseMs: int64(getEnvInt("QUEUE_RETRY_BASE_MS", 2000)),
		},
		Cache: CacheConfig{
			TTLHours:          getEnvInt("CACHE_TTL_HOURS", 24),
			LRUMaxItems:       getEnvInt("CACHE_LRU_MAX_ITEMS", 512),
			CleanupIntervalMs: getEnvInt("CACHE_CLEANUP_INTERVAL_MS", 3_600_000),
		},
		Segment: SegmentConfig{
			MinDurationMs:    int64(getEnvInt("SEGMENT_MIN_DURATION_MS", 3000)),
			MaxDurationMs:    int64(getEnvInt("SEGMENT_MAX_DURATION_MS", 7000)),
			GapThresholdMs:   int64(getEnvInt("SEGMENT_GAP_MS", 1200)),
			MaxChars:         getEnvInt("SEGMENT_MAX_CHARS", 0),
			MaxWords:         getEnvInt("SEGMENT_MAX_WORDS", 0),
			SRV3OverlapGapMs: int64(getEnvInt("SEGMENT_SRV3_OVERLAP_GAP_MS", 100)),
		},
		Fetch: FetchConfig{
			TimeoutSeconds: getEnvInt("FETCH_TIMEOUT_SECONDS", 5),
			BaseURL:        getEnvString("FETCH_BASE_URL", ""),
			UserAgent:      getEnvString("FETCH_USER_AGENT", ""),
		},
		System: SystemConfig{
			DataDir:    getEnvString("DATA_DIR", "/app/data"),
			AdminToken: getEnvString("ADMIN_TOKEN", ""),
		},
	}

	log.Info("Config: %v", config)

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set.
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
