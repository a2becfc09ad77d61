package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Document store connection
	DocstoreURL    string
	DocstoreAPIKey string

	// Auth
	APIKey string

	// Ollama (embeddings + generation)
	OllamaURL      string
	EmbeddingModel string
	DefaultModel   string

	// Upload limits
	MaxUploadBytes int64
	UploadDir      string

	// Crawler
	CrawlTimeout    time.Duration
	CrawlFetchLimit int64
	CrawlRatePerSec float64

	// Chunking
	ChunkSize int

	// Reprocessing
	ReprocessDelay time.Duration

	// Streaming
	StreamTimeout time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8085"),

		DocstoreURL:    envOr("DOCSTORE_URL", "http://localhost:8080"),
		DocstoreAPIKey: os.Getenv("DOCSTORE_API_KEY"),

		APIKey: os.Getenv("KNOBASE_API_KEY"),

		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "all-minilm"),
		DefaultModel:   envOr("DEFAULT_MODEL", "llama3"),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10*1024*1024), // 10MB
		UploadDir:      envOr("UPLOAD_DIR", filepath.Join(os.TempDir(), "knobase", "uploads")),

		CrawlTimeout:    envDuration("CRAWL_TIMEOUT", 30*time.Second),
		CrawlFetchLimit: envInt64("CRAWL_FETCH_LIMIT", 5*1024*1024),
		CrawlRatePerSec: envFloat("CRAWL_RATE_PER_SEC", 4.0),

		ChunkSize: envInt("CHUNK_SIZE", 1000),

		ReprocessDelay: envDuration("REPROCESS_DELAY", 500*time.Millisecond),

		StreamTimeout: envDuration("STREAM_TIMEOUT", 5*time.Minute),
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	if cfg.CrawlFetchLimit <= 0 {
		cfg.CrawlFetchLimit = 5 * 1024 * 1024
	}
	if cfg.CrawlRatePerSec <= 0 {
		cfg.CrawlRatePerSec = 4.0
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ReprocessDelay <= 0 {
		cfg.ReprocessDelay = 500 * time.Millisecond
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DocstoreAPIKey == "" {
		return fmt.Errorf("DOCSTORE_API_KEY is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("KNOBASE_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
