package memori

import (
	"os"
	"time"
)

// Config holds the recognized configuration surface, populated with
// defaults and overridable per-handle via Option functions passed to Open.
type Config struct {
	SessionTimeoutMinutes   int
	RecallFactsLimit        int
	RecallEmbeddingsLimit   int
	RecallRelevanceThresh   float64
	RequestBackoffFactor    float64
	RequestNumBackoff       int
	RequestSecsTimeout      time.Duration
	AugmentationWorkers     int
	DBWriterQueueSize       int
	DBWriterBatchSize       int
	DBWriterBatchTimeout    time.Duration
	APIKey                  string
	APIURLBase              string
	TestMode                bool
	EmbeddingOllamaURL      string
}

const (
	defaultSessionTimeoutMinutes = 30
	defaultRecallFactsLimit      = 5
	defaultRecallEmbeddingsLimit = 1000
	defaultRecallRelevanceThresh = 0.1
	defaultRequestBackoffFactor  = 1
	defaultRequestNumBackoff     = 5
	defaultRequestSecsTimeout    = 5 * time.Second
	defaultAugmentationWorkers   = 50
	defaultDBWriterQueueSize     = 1000
	defaultDBWriterBatchSize     = 100
	defaultDBWriterBatchTimeout  = 100 * time.Millisecond

	defaultAPIURLBase = "https://api.memorilabs.ai"
)

// defaultConfig returns the recognized configuration with its documented
// defaults, then layers in environment overrides the same way the
// reference service does: MEMORI_API_KEY, MEMORI_API_URL_BASE, and
// MEMORI_TEST_MODE.
func defaultConfig() Config {
	return Config{
		SessionTimeoutMinutes: defaultSessionTimeoutMinutes,
		RecallFactsLimit:      defaultRecallFactsLimit,
		RecallEmbeddingsLimit: defaultRecallEmbeddingsLimit,
		RecallRelevanceThresh: defaultRecallRelevanceThresh,
		RequestBackoffFactor:  defaultRequestBackoffFactor,
		RequestNumBackoff:     defaultRequestNumBackoff,
		RequestSecsTimeout:    defaultRequestSecsTimeout,
		AugmentationWorkers:   defaultAugmentationWorkers,
		DBWriterQueueSize:     defaultDBWriterQueueSize,
		DBWriterBatchSize:     defaultDBWriterBatchSize,
		DBWriterBatchTimeout:  defaultDBWriterBatchTimeout,
		APIKey:                os.Getenv("MEMORI_API_KEY"),
		APIURLBase:            envOr("MEMORI_API_URL_BASE", defaultAPIURLBase),
		TestMode:              os.Getenv("MEMORI_TEST_MODE") != "",
		EmbeddingOllamaURL:    os.Getenv("MEMORI_EMBEDDING_OLLAMA_URL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Option configures a Handle at Open time.
type Option func(*Config)

// WithSessionTimeout overrides the conversation-rollover timeout.
func WithSessionTimeout(minutes int) Option {
	return func(c *Config) { c.SessionTimeoutMinutes = minutes }
}

// WithRecallLimits overrides the recall subsystem's candidate pool size,
// result count, and relevance cutoff.
func WithRecallLimits(facts, embeddings int, threshold float64) Option {
	return func(c *Config) {
		c.RecallFactsLimit = facts
		c.RecallEmbeddingsLimit = embeddings
		c.RecallRelevanceThresh = threshold
	}
}

// WithAugmentationWorkers overrides the augmentation pool's concurrency
// bound.
func WithAugmentationWorkers(n int) Option {
	return func(c *Config) { c.AugmentationWorkers = n }
}

// WithAPIKey overrides the augmentation service bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithAPIURLBase overrides the augmentation service endpoint.
func WithAPIURLBase(base string) Option {
	return func(c *Config) { c.APIURLBase = base }
}

// WithTestMode disables outbound augmentation telemetry, printing the
// payload instead — mirroring MEMORI_TEST_MODE.
func WithTestMode(enabled bool) Option {
	return func(c *Config) { c.TestMode = enabled }
}

// WithEmbeddingOllamaURL registers a real Ollama-backed embedding model as
// the default model, instead of relying on the zero-vector fallback.
func WithEmbeddingOllamaURL(baseURL string) Option {
	return func(c *Config) { c.EmbeddingOllamaURL = baseURL }
}
