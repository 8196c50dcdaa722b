package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/retry"
	"github.com/quarryd/quarry/internal/telemetry"
)

// Skip reasons recorded on stage outcomes besides SkipReasonDisabled.
const (
	skipReasonUnusable = "unusable_content"
	skipReasonEmpty    = "empty_content"
)

// Orchestrator runs the per-item pipeline over a fetch batch. Item failures
// stay item-local: a stage that fails records a failed outcome and the item
// continues through the remaining stages with placeholder payloads.
type Orchestrator struct {
	ai     harvest.AICapability
	policy *retry.Policy
	hasher harvest.Hasher
	clock  harvest.Clock
	logger *zap.Logger
}

// Result is the pipeline output for one fetch batch.
type Result struct {
	Items    []harvest.ProcessedItem
	Groups   []harvest.DuplicateGroup
	Warnings []harvest.Warning
}

// New builds an Orchestrator. The retry policy classifies AI capability
// errors; permanent failures surface after a single attempt.
func New(ai harvest.AICapability, policy *retry.Policy, hasher harvest.Hasher, clock harvest.Clock, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{ai: ai, policy: policy, hasher: hasher, clock: clock, logger: logger}
}

// Process runs every fetched item through the pipeline in batches, then
// groups duplicates across the whole set. Each returned item carries exactly
// one outcome per pipeline stage.
func (o *Orchestrator) Process(ctx context.Context, query harvest.ParsedQuery, fetched []harvest.FetchedItem, cfg harvest.ProcessingConfig) Result {
	if len(fetched) == 0 {
		return Result{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}

	var (
		mu       sync.Mutex
		warnings []harvest.Warning
	)
	items := make([]harvest.ProcessedItem, len(fetched))

	for start := 0; start < len(fetched); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(fetched) {
			end = len(fetched)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for idx := start; idx < end; idx++ {
			idx := idx
			g.Go(func() error {
				item, warns := o.processOne(gctx, query, fetched[idx], cfg)
				mu.Lock()
				items[idx] = item
				warnings = append(warnings, warns...)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	groups := o.deduplicate(items, cfg)
	return Result{Items: items, Groups: groups, Warnings: warnings}
}

func (o *Orchestrator) processOne(ctx context.Context, query harvest.ParsedQuery, f harvest.FetchedItem, cfg harvest.ProcessingConfig) (harvest.ProcessedItem, []harvest.Warning) {
	item := harvest.ProcessedItem{
		URL:        f.URL,
		FetchedAt:  f.FetchedAt,
		Truncated:  f.Truncated,
		Analysis:   harvest.EmptyAnalysis(),
		Summary:    harvest.EmptySummary(),
		Extraction: harvest.EmptyExtraction(),
	}
	var warnings []harvest.Warning

	blocked := o.runClean(f, cfg, &item, &warnings)

	// Fingerprint material is the source URL plus the extracted title,
	// stable for the lifetime of one request.
	fp, err := o.hasher.Hash([]byte(f.URL + "|" + item.Clean.Title))
	if err != nil {
		fp = f.URL
	}
	item.Fingerprint = fp

	in := harvest.AIInput{Query: query.Text, Title: item.Clean.Title, Text: item.Clean.Text}

	item.Outcomes = append(item.Outcomes, o.runAIStage(ctx, harvest.StageAnalyze, cfg.EnableAnalysis, blocked, cfg.StageTimeout,
		func(ctx context.Context) error {
			payload, err := o.ai.Analyze(ctx, in)
			if err != nil {
				return err
			}
			item.Analysis = payload
			return nil
		}))
	item.Outcomes = append(item.Outcomes, o.runAIStage(ctx, harvest.StageSummarize, cfg.EnableSummarization, blocked, cfg.StageTimeout,
		func(ctx context.Context) error {
			payload, err := o.ai.Summarize(ctx, in, cfg.MaxSummaryLength)
			if err != nil {
				return err
			}
			item.Summary = payload
			return nil
		}))
	item.Outcomes = append(item.Outcomes, o.runAIStage(ctx, harvest.StageExtract, cfg.EnableExtraction, blocked, cfg.StageTimeout,
		func(ctx context.Context) error {
			payload, err := o.ai.Extract(ctx, in)
			if err != nil {
				return err
			}
			item.Extraction = payload
			return nil
		}))

	for _, outcome := range item.Outcomes {
		// The clean stage warns inline; only AI stages are reported here.
		if outcome.Stage != harvest.StageClean && outcome.Status == harvest.OutcomeFailed {
			o.logger.Warn("pipeline stage failed",
				zap.String("url", f.URL),
				zap.String("stage", string(outcome.Stage)),
				zap.String("error", outcome.Error))
			warnings = append(warnings, harvest.Warning{
				Stage:   string(outcome.Stage),
				Code:    harvest.WarnStageFailure,
				Message: string(outcome.Stage) + " stage failed for " + f.URL,
			})
		}
	}
	return item, warnings
}

// runClean executes the clean stage and returns the skip reason that blocks
// AI stages, empty when the content is usable.
func (o *Orchestrator) runClean(f harvest.FetchedItem, cfg harvest.ProcessingConfig, item *harvest.ProcessedItem, warnings *[]harvest.Warning) string {
	start := o.clock.Now()
	outcome := harvest.StageOutcome{Stage: harvest.StageClean}
	blocked := ""

	if !cfg.EnableCleaning {
		item.Clean = rawPayload(f.Body)
		outcome.Status = harvest.OutcomeSkipped
		outcome.Reason = harvest.SkipReasonDisabled
		if item.Clean.WordCount == 0 {
			blocked = skipReasonEmpty
		}
	} else {
		payload, err := cleanContent(f.Body)
		switch {
		case err != nil:
			outcome.Status = harvest.OutcomeFailed
			outcome.Error = err.Error()
			blocked = skipReasonUnusable
			*warnings = append(*warnings, harvest.Warning{
				Stage:   string(harvest.StageClean),
				Code:    harvest.WarnStageFailure,
				Message: "content cleaning failed for " + f.URL,
			})
		default:
			item.Clean = payload
			outcome.Status = harvest.OutcomeCompleted
			if payload.WordCount == 0 {
				blocked = skipReasonEmpty
			}
			// Quality gate flags, never drops.
			if payload.QualityScore < cfg.MinContentQuality {
				item.LowQuality = true
				*warnings = append(*warnings, harvest.Warning{
					Stage:   string(harvest.StageClean),
					Code:    harvest.WarnLowQuality,
					Message: "content below quality threshold: " + f.URL,
				})
			}
		}
	}

	outcome.DurationMs = o.clock.Now().Sub(start).Milliseconds()
	telemetry.CountStageOutcome(string(harvest.StageClean), string(outcome.Status))
	item.Outcomes = append(item.Outcomes, outcome)
	return blocked
}

func (o *Orchestrator) runAIStage(ctx context.Context, stage harvest.Stage, enabled bool, blocked string, timeout time.Duration, call func(context.Context) error) harvest.StageOutcome {
	start := o.clock.Now()
	outcome := harvest.StageOutcome{Stage: stage}

	switch {
	case !enabled:
		outcome.Status = harvest.OutcomeSkipped
		outcome.Reason = harvest.SkipReasonDisabled
	case blocked != "":
		outcome.Status = harvest.OutcomeSkipped
		outcome.Reason = blocked
	default:
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := o.policy.Do(sctx, call)
		cancel()
		if err != nil {
			outcome.Status = harvest.OutcomeFailed
			outcome.Error = err.Error()
		} else {
			outcome.Status = harvest.OutcomeCompleted
		}
	}

	outcome.DurationMs = o.clock.Now().Sub(start).Milliseconds()
	telemetry.CountStageOutcome(string(stage), string(outcome.Status))
	return outcome
}

// deduplicate closes the pipeline: every item gets a deduplicate outcome and
// a dedup payload, whether or not the stage is enabled.
func (o *Orchestrator) deduplicate(items []harvest.ProcessedItem, cfg harvest.ProcessingConfig) []harvest.DuplicateGroup {
	start := o.clock.Now()

	var groups []harvest.DuplicateGroup
	status := harvest.OutcomeCompleted
	reason := ""
	if cfg.EnableDeduplication {
		groups = groupDuplicates(items, cfg, o.hasher)
	} else {
		status = harvest.OutcomeSkipped
		reason = harvest.SkipReasonDisabled
		for i := range items {
			items[i].Dedup = harvest.DedupPayload{GroupSize: 1, Representative: true}
		}
	}

	durationMs := o.clock.Now().Sub(start).Milliseconds()
	for i := range items {
		items[i].Outcomes = append(items[i].Outcomes, harvest.StageOutcome{
			Stage:      harvest.StageDeduplicate,
			Status:     status,
			Reason:     reason,
			DurationMs: durationMs,
		})
		telemetry.CountStageOutcome(string(harvest.StageDeduplicate), string(status))
	}
	return groups
}
