// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Query      QueryConfig      `mapstructure:"query"`
	AI         AIConfig         `mapstructure:"ai"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool              `mapstructure:"development"`
	File        LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig enables rotating-file output when Path is set.
type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// WorkflowConfig governs coordinator budgets and limits.
type WorkflowConfig struct {
	DefaultTimeoutSeconds int    `mapstructure:"default_timeout_seconds"`
	MaxResultsPerRequest  int    `mapstructure:"max_results_per_request"`
	CompletionTopic       string `mapstructure:"completion_topic"`
}

// FetchConfig configures the fetch scheduler and its retry policy.
type FetchConfig struct {
	Concurrency              int     `mapstructure:"concurrency"`
	PerRequestTimeoutSeconds int     `mapstructure:"per_request_timeout_seconds"`
	MaxRetries               int     `mapstructure:"max_retries"`
	BackoffInitialMs         int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs             int     `mapstructure:"backoff_max_ms"`
	MaxContentBytes          int64   `mapstructure:"max_content_bytes"`
	GlobalRPS                float64 `mapstructure:"global_rps"`
	UserAgent                string  `mapstructure:"user_agent"`
}

// PolitenessConfig governs per-domain delays and robots handling.
type PolitenessConfig struct {
	DefaultDelaySeconds int  `mapstructure:"default_delay_seconds"`
	RobotsTTLHours      int  `mapstructure:"robots_ttl_hours"`
	RespectRobots       bool `mapstructure:"respect_robots"`
}

// CacheConfig selects and sizes the response cache backend.
type CacheConfig struct {
	Backend    string           `mapstructure:"backend"`
	Capacity   int              `mapstructure:"capacity"`
	TTLSeconds int              `mapstructure:"ttl_seconds"`
	Redis      RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection settings for the cache backend.
type RedisCacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PipelineConfig sets processing defaults; requests may override them within
// the wire contract's bounds.
type PipelineConfig struct {
	EnableCleaning      bool    `mapstructure:"enable_content_cleaning"`
	EnableAnalysis      bool    `mapstructure:"enable_ai_analysis"`
	EnableSummarization bool    `mapstructure:"enable_summarization"`
	EnableExtraction    bool    `mapstructure:"enable_structured_extraction"`
	EnableDeduplication bool    `mapstructure:"enable_duplicate_detection"`
	Concurrency         int     `mapstructure:"concurrency"`
	BatchSize           int     `mapstructure:"batch_size"`
	MaxSummaryLength    int     `mapstructure:"max_summary_length"`
	MaxSimilarityPairs  int     `mapstructure:"max_similarity_pairs"`
	MaxSimilarityBatch  int     `mapstructure:"max_similarity_batch"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MinContentQuality   float64 `mapstructure:"min_content_quality_score"`
	StageTimeoutSeconds int     `mapstructure:"stage_timeout_seconds"`
}

// QueryConfig controls candidate URL discovery.
type QueryConfig struct {
	Feeds   []string `mapstructure:"feeds"`
	MaxURLs int      `mapstructure:"max_urls"`
}

// AIConfig selects the AI provider.
type AIConfig struct {
	Provider       string         `mapstructure:"provider"`
	MaxRetries     int            `mapstructure:"max_retries"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Cohere         CohereAIConfig `mapstructure:"cohere"`
}

// CohereAIConfig holds Cohere credentials.
type CohereAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// StorageConfig selects the persistence provider.
type StorageConfig struct {
	Provider string                `mapstructure:"provider"`
	Postgres PostgresStorageConfig `mapstructure:"postgres"`
}

// PostgresStorageConfig holds Postgres connection settings.
type PostgresStorageConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PublisherConfig selects the completion-event publisher.
type PublisherConfig struct {
	Provider string       `mapstructure:"provider"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 630)
	v.SetDefault("logging.development", true)
	v.SetDefault("workflow.default_timeout_seconds", 300)
	v.SetDefault("workflow.max_results_per_request", 50)
	v.SetDefault("workflow.completion_topic", "workflow-completed")
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.per_request_timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.max_content_bytes", 2<<20)
	v.SetDefault("fetch.global_rps", 0)
	v.SetDefault("fetch.user_agent", "quarry-bot/1.0")
	v.SetDefault("politeness.default_delay_seconds", 1)
	v.SetDefault("politeness.robots_ttl_hours", 24)
	v.SetDefault("politeness.respect_robots", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.ttl_seconds", 900)
	v.SetDefault("pipeline.enable_content_cleaning", true)
	v.SetDefault("pipeline.enable_ai_analysis", true)
	v.SetDefault("pipeline.enable_summarization", true)
	v.SetDefault("pipeline.enable_structured_extraction", true)
	v.SetDefault("pipeline.enable_duplicate_detection", true)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.max_summary_length", 500)
	v.SetDefault("pipeline.max_similarity_pairs", 50)
	v.SetDefault("pipeline.max_similarity_batch", 10)
	v.SetDefault("pipeline.similarity_threshold", 0.8)
	v.SetDefault("pipeline.min_content_quality_score", 0.4)
	v.SetDefault("pipeline.stage_timeout_seconds", 30)
	v.SetDefault("query.feeds", []string{})
	v.SetDefault("query.max_urls", 10)
	v.SetDefault("ai.provider", "none")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.timeout_seconds", 30)
	v.SetDefault("ai.cohere.model", "command-r")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("publisher.provider", "memory")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Workflow.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("workflow.default_timeout_seconds must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Pipeline.SimilarityThreshold < 0.5 || c.Pipeline.SimilarityThreshold > 0.95 {
		return fmt.Errorf("pipeline.similarity_threshold must be within [0.5, 0.95]")
	}
	if c.Pipeline.MinContentQuality < 0 || c.Pipeline.MinContentQuality > 1 {
		return fmt.Errorf("pipeline.min_content_quality_score must be within [0, 1]")
	}
	switch c.AI.Provider {
	case "none":
	case "cohere":
		if c.AI.Cohere.APIKey == "" {
			return fmt.Errorf("ai.cohere.api_key must be set when ai.provider is cohere")
		}
	default:
		return fmt.Errorf("ai.provider must be cohere or none, got %q", c.AI.Provider)
	}
	switch c.Storage.Provider {
	case "memory", "none":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("storage.provider must be memory, postgres or none, got %q", c.Storage.Provider)
	}
	switch c.Publisher.Provider {
	case "memory", "none":
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.Topic == "" {
			return fmt.Errorf("publisher.pubsub.project_id and topic must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("publisher.provider must be memory, pubsub or none, got %q", c.Publisher.Provider)
	}
	return nil
}

// DefaultWorkflowTimeout converts the configured default into a duration.
func (c Config) DefaultWorkflowTimeout() time.Duration {
	return time.Duration(c.Workflow.DefaultTimeoutSeconds) * time.Second
}
