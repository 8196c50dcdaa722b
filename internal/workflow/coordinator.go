package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/cache"
	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/pipeline"
	"github.com/quarryd/quarry/internal/telemetry"
)

// Fetcher executes a URL batch. Implemented by fetch.Scheduler.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) harvest.BatchResult
}

// Processor runs the content pipeline. Implemented by pipeline.Orchestrator.
type Processor interface {
	Process(ctx context.Context, query harvest.ParsedQuery, items []harvest.FetchedItem, cfg harvest.ProcessingConfig) pipeline.Result
}

// Config controls coordinator-level budgets and limits.
type Config struct {
	// DefaultTimeout applies when the request does not carry its own.
	DefaultTimeout time.Duration
	// QueryTimeout is the sub-budget for query understanding.
	QueryTimeout time.Duration
	// StoreTimeout is the sub-budget for best-effort persistence.
	StoreTimeout time.Duration
	// MaxResults caps items in the returned result; zero means unlimited.
	MaxResults int
	// CompletionTopic names the event published after each run.
	CompletionTopic string
}

// Coordinator owns one workflow execution end to end: cache check, the
// query_processing -> web_scraping -> ai_processing -> database_storage
// sequence, partial-result assembly, caching and the completion event.
type Coordinator struct {
	cfg       Config
	query     harvest.QueryUnderstanding
	fetcher   Fetcher
	processor Processor
	cache     cache.ResponseCache
	store     harvest.Persistence
	publisher harvest.Publisher
	hasher    harvest.Hasher
	ids       harvest.IDGenerator
	clock     harvest.Clock
	logger    *zap.Logger
}

// New builds a Coordinator. store and publisher may be nil when persistence
// or eventing is not configured.
func New(cfg Config, query harvest.QueryUnderstanding, fetcher Fetcher, processor Processor,
	responseCache cache.ResponseCache, store harvest.Persistence, publisher harvest.Publisher,
	hasher harvest.Hasher, ids harvest.IDGenerator, clock harvest.Clock, logger *zap.Logger) *Coordinator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.CompletionTopic == "" {
		cfg.CompletionTopic = "workflow-completed"
	}
	return &Coordinator{
		cfg:       cfg,
		query:     query,
		fetcher:   fetcher,
		processor: processor,
		cache:     responseCache,
		store:     store,
		publisher: publisher,
		hasher:    hasher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// CompletionEvent is published after every executed workflow.
type CompletionEvent struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	DurationMs int64  `json:"duration_ms"`
}

// Run executes one workflow request. Business-level failures come back as a
// result with an error code, never as a Go error.
func (c *Coordinator) Run(ctx context.Context, req harvest.WorkflowRequest) harvest.WorkflowResult {
	started := c.clock.Now()

	key, keyErr := cache.Fingerprint(c.hasher, req.Query, req.Config)
	if keyErr == nil {
		if cached, age, ok := c.cache.Get(ctx, key); ok {
			cached.Cached = true
			cached.CacheAge = age
			return cached
		}
	} else {
		c.logger.Warn("request fingerprint failed, cache bypassed", zap.Error(keyErr))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workflowID, err := c.ids.NewID()
	if err != nil {
		workflowID = fmt.Sprintf("wf-%d", started.UnixNano())
	}

	prog := newProgressTracker(c.clock)
	result := harvest.WorkflowResult{
		WorkflowID: workflowID,
		StartedAt:  started,
		Warnings:   []harvest.Warning{},
	}

	// query_processing: fatal on failure, nothing to degrade to.
	prog.start(harvest.WorkflowStageQuery)
	qctx, qcancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	parsed, err := c.query.Parse(qctx, req.Query)
	qcancel()
	if err != nil {
		prog.fail()
		code := harvest.CodeQueryProcessing
		if ctx.Err() != nil {
			code = harvest.CodeWorkflowTimeout
		}
		return c.fail(&result, prog, code, fmt.Sprintf("query understanding failed: %v", err))
	}
	result.Query = parsed
	prog.complete()

	// web_scraping: partial failure degrades, total failure is fatal.
	prog.start(harvest.WorkflowStageFetch)
	if len(parsed.CandidateURLs) == 0 {
		prog.fail()
		return c.fail(&result, prog, harvest.CodeNoContent, "no candidate URLs found for query")
	}
	batch := c.fetcher.FetchAll(ctx, parsed.CandidateURLs)
	if ctx.Err() != nil {
		prog.fail()
		return c.fail(&result, prog, harvest.CodeWorkflowTimeout, "workflow timed out during web scraping")
	}
	result.TotalItems = len(batch.Succeeded) + len(batch.Failed) + len(batch.Skipped)
	result.Succeeded = len(batch.Succeeded)
	result.Failed = len(batch.Failed)
	for _, f := range batch.Failed {
		result.Warnings = append(result.Warnings, harvest.Warning{
			Stage:   harvest.WorkflowStageFetch,
			Code:    harvest.WarnScrapeFailure,
			Message: fmt.Sprintf("fetch failed for %s: %s", f.URL, f.Error),
		})
	}
	for _, s := range batch.Skipped {
		result.Warnings = append(result.Warnings, harvest.Warning{
			Stage:   harvest.WorkflowStageFetch,
			Code:    harvest.WarnScrapeSkipped,
			Message: fmt.Sprintf("fetch skipped for %s: %s", s.URL, s.Reason),
		})
	}
	if len(batch.Succeeded) == 0 {
		prog.fail()
		return c.fail(&result, prog, harvest.CodeNoContent, "no content could be fetched for query")
	}
	prog.complete()

	// ai_processing: per-item failures are already folded into outcomes.
	prog.start(harvest.WorkflowStageProcess)
	pres := c.processor.Process(ctx, parsed, batch.Succeeded, req.Config)
	result.Items = pres.Items
	result.Groups = pres.Groups
	result.Warnings = append(result.Warnings, pres.Warnings...)
	if ctx.Err() != nil {
		// Keep whatever the pipeline managed to produce.
		prog.fail()
		return c.fail(&result, prog, harvest.CodeWorkflowTimeout, "workflow timed out during content processing")
	}
	prog.complete()

	c.limitResults(&result)

	// database_storage: best-effort, failure downgrades to a warning.
	if req.StoreResults && c.store != nil {
		prog.start(harvest.WorkflowStageStore)
		sctx, scancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		err := c.store.Store(sctx, &result)
		scancel()
		if err != nil {
			prog.abandon()
			c.logger.Warn("workflow persistence failed", zap.String("workflow_id", workflowID), zap.Error(err))
			result.Warnings = append(result.Warnings, harvest.Warning{
				Stage:   harvest.WorkflowStageStore,
				Code:    harvest.WarnStorageFailed,
				Message: fmt.Sprintf("results were not persisted: %v", err),
			})
		} else {
			prog.complete()
		}
	}

	result.Status = harvest.StatusSuccess
	if result.Failed > 0 || anyStageFailed(result.Items) {
		result.Status = harvest.StatusPartial
	}
	c.finish(&result, prog)

	if keyErr == nil {
		c.cache.Put(ctx, key, result)
	}
	c.publish(&result)
	return result
}

// fail assembles a terminal failure. A timeout with completed stages still
// returns partial output rather than nothing.
func (c *Coordinator) fail(result *harvest.WorkflowResult, prog *progressTracker, code, message string) harvest.WorkflowResult {
	result.Status = harvest.StatusFailed
	if code == harvest.CodeWorkflowTimeout && len(prog.completed) > 0 {
		result.Status = harvest.StatusPartial
	}
	result.ErrorCode = code
	result.ErrorMessage = message
	result.RecoverySuggestions = harvest.SuggestionsFor(code)
	c.finish(result, prog)
	c.logger.Warn("workflow failed",
		zap.String("workflow_id", result.WorkflowID),
		zap.String("code", code),
		zap.String("failed_stage", result.FailedStage))
	// Results carrying a fatal error are never cached.
	c.publish(result)
	return *result
}

func (c *Coordinator) finish(result *harvest.WorkflowResult, prog *progressTracker) {
	result.FinishedAt = c.clock.Now()
	result.CompletedStages = prog.completed
	result.FailedStage = prog.failed
	result.StageTimings = prog.timings
	telemetry.CountWorkflow(string(result.Status))
}

func (c *Coordinator) limitResults(result *harvest.WorkflowResult) {
	if c.cfg.MaxResults > 0 && len(result.Items) > c.cfg.MaxResults {
		result.Items = result.Items[:c.cfg.MaxResults]
		result.ResultsLimited = true
	}
}

// publish emits the completion event. Best-effort; the result is already
// final when this runs.
func (c *Coordinator) publish(result *harvest.WorkflowResult) {
	if c.publisher == nil {
		return
	}
	event := CompletionEvent{
		WorkflowID: result.WorkflowID,
		Status:     string(result.Status),
		Total:      result.TotalItems,
		Succeeded:  result.Succeeded,
		DurationMs: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}
	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.publisher.Publish(pctx, c.cfg.CompletionTopic, event); err != nil {
		c.logger.Warn("completion event publish failed",
			zap.String("workflow_id", result.WorkflowID), zap.Error(err))
	}
}

func anyStageFailed(items []harvest.ProcessedItem) bool {
	for i := range items {
		for _, o := range items[i].Outcomes {
			if o.Status == harvest.OutcomeFailed {
				return true
			}
		}
	}
	return false
}
