// Package config loads the process configuration from YAML with
// environment-variable overrides, the same two-step pattern the teacher's
// config loader uses (unmarshal, then fill defaults with a log line).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alicit/licita/internal/logging"
)

type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int    `yaml:"max_conns"`
	MaxIdleTime string `yaml:"max_idle_time"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"` // "memory" | "redis"
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`

	SourceTTLSeconds   int `yaml:"source_ttl_seconds"`   // default 24h
	SynonymTTLSeconds  int `yaml:"synonym_ttl_seconds"`  // 0 = process lifetime
	AnswerTTLSeconds   int `yaml:"answer_ttl_seconds"`   // default 1h
	GzipThresholdBytes int `yaml:"gzip_threshold_bytes"` // default 512KiB
}

type ObjectStoreConfig struct {
	Backend  string `yaml:"backend"` // "memory" | "s3"
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

type RESTProviderConfig struct {
	Name          string `yaml:"name"`
	BaseURL       string `yaml:"base_url"`
	ModalityCode  int    `yaml:"modality_code"`
	PageSize      int    `yaml:"page_size"`
	MaxPages      int    `yaml:"max_pages"`
	BatchSize     int    `yaml:"batch_size"`
	MaxPerHost    int    `yaml:"max_per_host"`
	WindowPastDays   int `yaml:"window_past_days"`
	WindowFutureDays int `yaml:"window_future_days"`
	ParallelSearch   bool `yaml:"parallel_search"`
}

type ScrapeProviderConfig struct {
	Name       string `yaml:"name"`
	SearchURL  string `yaml:"search_url"`
	ItemsURL   string `yaml:"items_url"`
	MaxPerHost int    `yaml:"max_per_host"`
}

type ProvidersConfig struct {
	REST   RESTProviderConfig   `yaml:"rest"`
	Scrape ScrapeProviderConfig `yaml:"scrape"`
}

type EmbeddingTierConfig struct {
	Host       string `yaml:"host"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

type EmbeddingConfig struct {
	Primary   EmbeddingTierConfig `yaml:"primary"`
	Secondary EmbeddingTierConfig `yaml:"secondary"`
	Local     EmbeddingTierConfig `yaml:"local"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai" | "anthropic" | "google"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

type MatchingConfig struct {
	VectorThreshold        float64 `yaml:"vector_threshold"`
	EnableLLMValidation    bool    `yaml:"enable_llm_validation"`
	IncrementalWindowDays  int     `yaml:"incremental_window_days"`
	ClearMatchesBeforeReeval bool  `yaml:"clear_matches_before_reevaluate"`
}

type ChunkingConfig struct {
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
	MinChunkChars int `yaml:"min_chunk_chars"`
	MaxSectionChars int `yaml:"max_section_chars"`
}

type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "postgres" | "qdrant"
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
	QdrantAddr string `yaml:"qdrant_addr"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Matching    MatchingConfig    `yaml:"matching"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	OTel        TelemetryConfig   `yaml:"otel"`
}

// Load reads YAML from filename, applies defaults, then overlays
// environment-variable overrides (spec §6 configuration inputs).
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", filename, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	logging.WithComponent("config").Info("configuration loaded")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	log := logging.WithComponent("config")

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.SourceTTLSeconds <= 0 {
		cfg.Cache.SourceTTLSeconds = 24 * 3600
	}
	if cfg.Cache.AnswerTTLSeconds <= 0 {
		cfg.Cache.AnswerTTLSeconds = 3600
	}
	if cfg.Cache.GzipThresholdBytes <= 0 {
		cfg.Cache.GzipThresholdBytes = 512 * 1024
	}

	if cfg.ObjectStore.Backend == "" {
		cfg.ObjectStore.Backend = "memory"
	}

	if cfg.Providers.REST.ModalityCode == 0 {
		cfg.Providers.REST.ModalityCode = 8
		log.Info("no REST modality code configured, defaulting to 8")
	}
	if cfg.Providers.REST.PageSize <= 0 {
		cfg.Providers.REST.PageSize = 50
	}
	if cfg.Providers.REST.MaxPages <= 0 {
		cfg.Providers.REST.MaxPages = 200
	}
	if cfg.Providers.REST.BatchSize <= 0 {
		cfg.Providers.REST.BatchSize = 20
	}
	if cfg.Providers.REST.MaxPerHost <= 0 {
		cfg.Providers.REST.MaxPerHost = 8
	}
	if cfg.Providers.REST.WindowPastDays <= 0 {
		cfg.Providers.REST.WindowPastDays = 14
	}
	if cfg.Providers.REST.WindowFutureDays <= 0 {
		cfg.Providers.REST.WindowFutureDays = 120
	}
	if cfg.Providers.REST.Name == "" {
		cfg.Providers.REST.Name = "rest_portal"
	}
	if cfg.Providers.Scrape.Name == "" {
		cfg.Providers.Scrape.Name = "scrape_portal"
	}
	if cfg.Providers.Scrape.MaxPerHost <= 0 {
		cfg.Providers.Scrape.MaxPerHost = 5
	}

	if cfg.Embedding.Primary.BatchSize <= 0 {
		cfg.Embedding.Primary.BatchSize = 64
	}
	if cfg.Embedding.Secondary.BatchSize <= 0 {
		cfg.Embedding.Secondary.BatchSize = 64
	}
	if cfg.Embedding.Local.BatchSize <= 0 {
		cfg.Embedding.Local.BatchSize = 16
	}

	if cfg.Matching.VectorThreshold <= 0 {
		cfg.Matching.VectorThreshold = 0.65
		log.Info("no vector similarity threshold configured, defaulting to 0.65")
	}
	if cfg.Matching.IncrementalWindowDays <= 0 {
		cfg.Matching.IncrementalWindowDays = 7
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = 0.15
	}

	if cfg.Chunking.TargetTokens <= 0 {
		cfg.Chunking.TargetTokens = 800
	}
	if cfg.Chunking.OverlapTokens <= 0 {
		cfg.Chunking.OverlapTokens = 25
	}
	if cfg.Chunking.MinChunkChars <= 0 {
		cfg.Chunking.MinChunkChars = 100
	}
	if cfg.Chunking.MaxSectionChars <= 0 {
		cfg.Chunking.MaxSectionChars = 4000
	}

	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "memory"
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}

	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "licita"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIMARY_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.Primary.APIKey = v
	}
	if v := os.Getenv("SECONDARY_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.Secondary.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ENABLE_PARALLEL_SEARCH"); v != "" {
		cfg.Providers.REST.ParallelSearch = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ENABLE_LLM_VALIDATION"); v != "" {
		cfg.Matching.EnableLLMValidation = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VECTORIZER_KIND"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("CLEAR_MATCHES_BEFORE_REEVALUATE"); v != "" {
		cfg.Matching.ClearMatchesBeforeReeval = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CACHE_BACKEND_URL"); v != "" {
		cfg.Cache.Addr = v
		if cfg.Cache.Backend == "" || cfg.Cache.Backend == "memory" {
			cfg.Cache.Backend = "redis"
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MATCHING_VECTOR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.VectorThreshold = f
		}
	}
}
