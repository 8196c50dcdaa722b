// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/ai/cohere"
	"github.com/quarryd/quarry/internal/ai/noop"
	"github.com/quarryd/quarry/internal/api"
	"github.com/quarryd/quarry/internal/cache"
	"github.com/quarryd/quarry/internal/clock/system"
	"github.com/quarryd/quarry/internal/config"
	"github.com/quarryd/quarry/internal/fetch"
	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/hash/sha256"
	"github.com/quarryd/quarry/internal/id/uuid"
	"github.com/quarryd/quarry/internal/pipeline"
	"github.com/quarryd/quarry/internal/politeness"
	pubmemory "github.com/quarryd/quarry/internal/publisher/memory"
	"github.com/quarryd/quarry/internal/publisher/pubsub"
	"github.com/quarryd/quarry/internal/query"
	"github.com/quarryd/quarry/internal/retry"
	storememory "github.com/quarryd/quarry/internal/storage/memory"
	"github.com/quarryd/quarry/internal/storage/postgres"
	"github.com/quarryd/quarry/internal/workflow"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and passed to the commands that need it.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	coordinator *workflow.Coordinator
	server      *api.Server
	closers     []func()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Coordinator returns the workflow coordinator for direct (one-shot) runs.
func (a *App) Coordinator() *workflow.Coordinator {
	return a.coordinator
}

// Server returns the configured HTTP server.
func (a *App) Server() *api.Server {
	return a.server
}

// ProcessingDefaults returns the service-level pipeline defaults.
func (a *App) ProcessingDefaults() harvest.ProcessingConfig {
	return pipelineDefaults(a.cfg.Pipeline)
}

// Close releases held resources (connection pools, publisher clients).
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

// New assembles the full service graph from configuration. It fails fast if
// any critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	clk := system.New()
	hasher := sha256.New()
	ids := uuid.NewGenerator()

	guard := politeness.New(politeness.Config{
		DefaultDelay:  time.Duration(cfg.Politeness.DefaultDelaySeconds) * time.Second,
		RobotsTTL:     time.Duration(cfg.Politeness.RobotsTTLHours) * time.Hour,
		RespectRobots: cfg.Politeness.RespectRobots,
		UserAgent:     cfg.Fetch.UserAgent,
	}, clk, logger)

	fetchPolicy := retry.New(
		retry.WithMaxAttempts(cfg.Fetch.MaxRetries+1),
		retry.WithBackoff(
			time.Duration(cfg.Fetch.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.Fetch.BackoffMaxMs)*time.Millisecond,
		),
		retry.WithRetryable(fetch.Transient),
	)
	scheduler := fetch.New(fetch.Config{
		Concurrency:       cfg.Fetch.Concurrency,
		PerRequestTimeout: time.Duration(cfg.Fetch.PerRequestTimeoutSeconds) * time.Second,
		MaxContentBytes:   cfg.Fetch.MaxContentBytes,
		UserAgent:         cfg.Fetch.UserAgent,
		GlobalRPS:         cfg.Fetch.GlobalRPS,
	}, guard, fetchPolicy, clk, logger)

	responseCache, err := a.buildCache(cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	capability := a.buildAI(cfg, logger)
	aiPolicy := retry.New(
		retry.WithMaxAttempts(cfg.AI.MaxRetries+1),
		retry.WithRetryable(cohere.Transient),
	)
	orchestrator := pipeline.New(capability, aiPolicy, hasher, clk, logger)

	processor := query.New(query.Config{
		Feeds:   cfg.Query.Feeds,
		MaxURLs: cfg.Query.MaxURLs,
	}, logger)

	store, err := a.buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.coordinator = workflow.New(workflow.Config{
		DefaultTimeout:  cfg.DefaultWorkflowTimeout(),
		MaxResults:      cfg.Workflow.MaxResultsPerRequest,
		CompletionTopic: cfg.Workflow.CompletionTopic,
	}, processor, scheduler, orchestrator, responseCache, store, publisher, hasher, ids, clk, logger)

	a.server = api.NewServer(api.Config{
		RequestTimeout:         time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		APIKey:                 cfg.Server.APIKey,
		DefaultWorkflowTimeout: cfg.DefaultWorkflowTimeout(),
		Processing:             pipelineDefaults(cfg.Pipeline),
	}, a.coordinator, store, logger)

	logger.Info("application services initialized",
		zap.String("cache", cfg.Cache.Backend),
		zap.String("ai", cfg.AI.Provider),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("publisher", cfg.Publisher.Provider))
	return a, nil
}

func (a *App) buildCache(cfg config.Config, clk harvest.Clock, logger *zap.Logger) (cache.ResponseCache, error) {
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		logger.Info("using redis response cache", zap.String("addr", cfg.Cache.Redis.Addr))
		return cache.NewRedis(client, ttl, clk, logger), nil
	case "memory":
		return cache.NewMemory(cfg.Cache.Capacity, ttl, clk), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func (a *App) buildAI(cfg config.Config, logger *zap.Logger) harvest.AICapability {
	if cfg.AI.Provider == "cohere" {
		logger.Info("using cohere AI provider", zap.String("model", cfg.AI.Cohere.Model))
		return cohere.New(cohere.Config{
			APIKey:  cfg.AI.Cohere.APIKey,
			Model:   cfg.AI.Cohere.Model,
			Timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		}, logger)
	}
	logger.Info("no AI provider configured; AI stages complete with placeholders")
	return noop.New()
}

func (a *App) buildStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Persistence, error) {
	switch cfg.Storage.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "memory":
		return storememory.New(), nil
	case "none":
		logger.Info("persistence disabled; results will not be stored")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Publisher, error) {
	switch cfg.Publisher.Provider {
	case "pubsub":
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.Publisher.PubSub.Topic))
		pub, err := pubsub.New(ctx, cfg.Publisher.PubSub.ProjectID, cfg.Publisher.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return pub, nil
	case "memory":
		return pubmemory.New(), nil
	case "none":
		logger.Info("eventing disabled; no completion events will be published")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider: %s", cfg.Publisher.Provider)
	}
}

func pipelineDefaults(p config.PipelineConfig) harvest.ProcessingConfig {
	cfg := harvest.DefaultProcessingConfig()
	cfg.EnableCleaning = p.EnableCleaning
	cfg.EnableAnalysis = p.EnableAnalysis
	cfg.EnableSummarization = p.EnableSummarization
	cfg.EnableExtraction = p.EnableExtraction
	cfg.EnableDeduplication = p.EnableDeduplication
	if p.Concurrency > 0 {
		cfg.Concurrency = p.Concurrency
	}
	if p.BatchSize > 0 {
		cfg.BatchSize = p.BatchSize
	}
	if p.MaxSummaryLength > 0 {
		cfg.MaxSummaryLength = p.MaxSummaryLength
	}
	if p.MaxSimilarityPairs > 0 {
		cfg.MaxSimilarityPairs = p.MaxSimilarityPairs
	}
	if p.MaxSimilarityBatch > 0 {
		cfg.MaxSimilarityBatch = p.MaxSimilarityBatch
	}
	if p.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = p.SimilarityThreshold
	}
	if p.MinContentQuality > 0 {
		cfg.MinContentQuality = p.MinContentQuality
	}
	if p.StageTimeoutSeconds > 0 {
		cfg.StageTimeoutSeconds = p.StageTimeoutSeconds
		cfg.StageTimeout = time.Duration(p.StageTimeoutSeconds) * time.Second
	}
	return cfg
}
