// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"
)

// Stage identifies one unit of the per-item processing pipeline.
type Stage string

// Pipeline stages in fixed execution order.
const (
	StageClean       Stage = "clean"
	StageAnalyze     Stage = "analyze"
	StageSummarize   Stage = "summarize"
	StageExtract     Stage = "extract"
	StageDeduplicate Stage = "deduplicate"
)

// PipelineStages returns the fixed stage order. Every ProcessedItem carries
// exactly one StageOutcome per entry, even for disabled or failed stages.
func PipelineStages() []Stage {
	return []Stage{StageClean, StageAnalyze, StageSummarize, StageExtract, StageDeduplicate}
}

// Workflow stage names as recorded in timings and completed_stages.
const (
	WorkflowStageQuery   = "query_processing"
	WorkflowStageFetch   = "web_scraping"
	WorkflowStageProcess = "ai_processing"
	WorkflowStageStore   = "database_storage"
)

// WorkflowStatus is the terminal status of a workflow run.
type WorkflowStatus string

// Workflow terminal states.
const (
	StatusSuccess WorkflowStatus = "success"
	StatusPartial WorkflowStatus = "partial"
	StatusFailed  WorkflowStatus = "failed"
)

// ProcessingConfig controls which pipeline stages run and how.
type ProcessingConfig struct {
	EnableCleaning      bool          `json:"enable_content_cleaning"`
	EnableAnalysis      bool          `json:"enable_ai_analysis"`
	EnableSummarization bool          `json:"enable_summarization"`
	EnableExtraction    bool          `json:"enable_structured_extraction"`
	EnableDeduplication bool          `json:"enable_duplicate_detection"`
	Concurrency         int           `json:"concurrency"`
	BatchSize           int           `json:"batch_size"`
	MaxSummaryLength    int           `json:"max_summary_length"`
	MaxSimilarityPairs  int           `json:"max_similarity_pairs"`
	MaxSimilarityBatch  int           `json:"max_similarity_batch"`
	SimilarityThreshold float64       `json:"similarity_threshold"`
	MinContentQuality   float64       `json:"min_content_quality_score"`
	StageTimeout        time.Duration `json:"-"`
	StageTimeoutSeconds int           `json:"stage_timeout_seconds"`
}

// DefaultProcessingConfig mirrors the service defaults.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		EnableCleaning:      true,
		EnableAnalysis:      true,
		EnableSummarization: true,
		EnableExtraction:    true,
		EnableDeduplication: true,
		Concurrency:         3,
		BatchSize:           10,
		MaxSummaryLength:    500,
		MaxSimilarityPairs:  50,
		MaxSimilarityBatch:  10,
		SimilarityThreshold: 0.8,
		MinContentQuality:   0.4,
		StageTimeout:        30 * time.Second,
		StageTimeoutSeconds: 30,
	}
}

// WorkflowRequest is an immutable request for one workflow execution.
type WorkflowRequest struct {
	Query        string
	Config       ProcessingConfig
	Timeout      time.Duration
	StoreResults bool
}

// ParsedQuery is the output of the query-understanding capability.
type ParsedQuery struct {
	Text            string   `json:"text"`
	Category        string   `json:"category"`
	ConfidenceScore float64  `json:"confidence_score"`
	CandidateURLs   []string `json:"candidate_urls"`
}

// FetchStatus tracks the lifecycle of a single fetch task.
type FetchStatus string

// Fetch task states.
const (
	FetchPending         FetchStatus = "pending"
	FetchInFlight        FetchStatus = "in_flight"
	FetchSucceeded       FetchStatus = "succeeded"
	FetchFailed          FetchStatus = "failed"
	FetchSkippedByPolicy FetchStatus = "skipped_by_policy"
)

// FetchedItem is one successfully fetched document.
type FetchedItem struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Body       []byte        `json:"-"`
	Truncated  bool          `json:"truncated"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Duration   time.Duration `json:"-"`
}

// FetchFailure records a fetch that exhausted its retries or failed hard.
type FetchFailure struct {
	URL       string `json:"url"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	Transient bool   `json:"transient"`
}

// SkippedFetch records a fetch suppressed by politeness policy.
type SkippedFetch struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BatchResult associates each outcome of a fetch batch with its original URL.
// Ordering within the slices is not guaranteed to match submission order.
type BatchResult struct {
	Succeeded []FetchedItem
	Failed    []FetchFailure
	Skipped   []SkippedFetch
}

// OutcomeStatus tags a StageOutcome variant.
type OutcomeStatus string

// Stage outcome variants.
const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// SkipReasonDisabled marks outcomes for stages turned off by configuration.
const SkipReasonDisabled = "disabled"

// StageOutcome records what happened for one (item, stage) pair. Skipped and
// failed stages still leave the item's payload fields well-formed, so
// downstream consumers never branch on "stage ran or not".
type StageOutcome struct {
	Stage      Stage         `json:"stage"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// CleanPayload is the output of the clean stage.
type CleanPayload struct {
	Title        string  `json:"title"`
	Text         string  `json:"text"`
	Description  string  `json:"description"`
	Language     string  `json:"language"`
	WordCount    int     `json:"word_count"`
	QualityScore float64 `json:"quality_score"`
}

// AnalysisPayload is the output of the AI analysis stage.
type AnalysisPayload struct {
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
	Relevance float64  `json:"relevance"`
	Insights  []string `json:"insights"`
}

// SummaryPayload is the output of the summarization stage.
type SummaryPayload struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// ExtractedFact is a single structured name/value pair.
type ExtractedFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExtractionPayload is the output of the structured-extraction stage.
type ExtractionPayload struct {
	Facts []ExtractedFact `json:"facts"`
}

// DedupPayload places an item inside its duplicate group.
type DedupPayload struct {
	GroupID        string  `json:"group_id"`
	GroupSize      int     `json:"group_size"`
	Representative bool    `json:"representative"`
	Similarity     float64 `json:"similarity"`
}

// EmptyAnalysis returns the well-formed placeholder for a skipped analysis.
func EmptyAnalysis() AnalysisPayload {
	return AnalysisPayload{Topics: []string{}, Insights: []string{}}
}

// EmptySummary returns the well-formed placeholder for a skipped summary.
func EmptySummary() SummaryPayload {
	return SummaryPayload{KeyPoints: []string{}}
}

// EmptyExtraction returns the well-formed placeholder for a skipped extraction.
func EmptyExtraction() ExtractionPayload {
	return ExtractionPayload{Facts: []ExtractedFact{}}
}

// ProcessedItem is one content item after the full pipeline. Fingerprint is
// stable for the lifetime of a single WorkflowRequest.
type ProcessedItem struct {
	Fingerprint string            `json:"fingerprint"`
	URL         string            `json:"url"`
	FetchedAt   time.Time         `json:"fetched_at"`
	Truncated   bool              `json:"truncated"`
	LowQuality  bool              `json:"low_quality"`
	Clean       CleanPayload      `json:"clean"`
	Analysis    AnalysisPayload   `json:"analysis"`
	Summary     SummaryPayload    `json:"summary"`
	Extraction  ExtractionPayload `json:"extraction"`
	Dedup       DedupPayload      `json:"dedup"`
	Outcomes    []StageOutcome    `json:"stage_outcomes"`
}

// Outcome returns the recorded outcome for stage, if present.
func (p *ProcessedItem) Outcome(stage Stage) (StageOutcome, bool) {
	for _, o := range p.Outcomes {
		if o.Stage == stage {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// DuplicateGroup is a set of near-identical items with one representative.
type DuplicateGroup struct {
	ID             string             `json:"id"`
	Representative string             `json:"representative"`
	Members        []string           `json:"members"`
	Similarity     map[string]float64 `json:"similarity"`
}

// Warning is a non-fatal problem embedded in a WorkflowResult.
type Warning struct {
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorkflowResult is assembled by the Workflow Coordinator and owned by it
// until returned to the caller.
type WorkflowResult struct {
	WorkflowID          string             `json:"workflow_id"`
	Status              WorkflowStatus     `json:"status"`
	Query               ParsedQuery        `json:"query"`
	Items               []ProcessedItem    `json:"items"`
	Groups              []DuplicateGroup   `json:"duplicate_groups"`
	TotalItems          int                `json:"total_items"`
	Succeeded           int                `json:"succeeded"`
	Failed              int                `json:"failed"`
	ResultsLimited      bool               `json:"results_limited"`
	Warnings            []Warning          `json:"warnings"`
	ErrorCode           string             `json:"error_code,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	RecoverySuggestions []string           `json:"recovery_suggestions,omitempty"`
	CompletedStages     []string           `json:"completed_stages"`
	FailedStage         string             `json:"failed_stage,omitempty"`
	StageTimings        map[string]float64 `json:"stages_timing"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          time.Time          `json:"finished_at"`
	Cached              bool               `json:"cached"`
	CacheAge            time.Duration      `json:"-"`
}
