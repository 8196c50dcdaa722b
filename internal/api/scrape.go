package api

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quarryd/quarry/internal/harvest"
)

// Request bounds enforced before any work starts.
const (
	minQueryLen   = 3
	maxQueryLen   = 1000
	minTimeoutSec = 30
	maxTimeoutSec = 600
)

type scrapeRequest struct {
	Query            string                   `json:"query"`
	TimeoutSeconds   *int                     `json:"timeout_seconds"`
	StoreResults     *bool                    `json:"store_results"`
	ProcessingConfig *processingConfigRequest `json:"processing_config"`
}

// processingConfigRequest uses pointers so absent fields fall back to service
// defaults instead of zero values.
type processingConfigRequest struct {
	EnableCleaning      *bool    `json:"enable_content_cleaning"`
	EnableAnalysis      *bool    `json:"enable_ai_analysis"`
	EnableSummarization *bool    `json:"enable_summarization"`
	EnableExtraction    *bool    `json:"enable_structured_extraction"`
	EnableDeduplication *bool    `json:"enable_duplicate_detection"`
	Concurrency         *int     `json:"concurrency"`
	BatchSize           *int     `json:"batch_size"`
	MaxSummaryLength    *int     `json:"max_summary_length"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	MinContentQuality   *float64 `json:"min_content_quality_score"`
	StageTimeoutSeconds *int     `json:"stage_timeout_seconds"`
}

// toWorkflowRequest validates the request and applies defaults. The returned
// string is a human-readable validation failure, empty when valid.
func (r scrapeRequest) toWorkflowRequest(defaultTimeout time.Duration, defaults harvest.ProcessingConfig) (harvest.WorkflowRequest, string) {
	query := strings.TrimSpace(r.Query)
	if n := utf8.RuneCountInString(query); n < minQueryLen || n > maxQueryLen {
		return harvest.WorkflowRequest{}, fmt.Sprintf("query must be %d-%d characters after trimming", minQueryLen, maxQueryLen)
	}

	timeout := defaultTimeout
	if r.TimeoutSeconds != nil {
		if *r.TimeoutSeconds < minTimeoutSec || *r.TimeoutSeconds > maxTimeoutSec {
			return harvest.WorkflowRequest{}, fmt.Sprintf("timeout_seconds must be %d-%d", minTimeoutSec, maxTimeoutSec)
		}
		timeout = time.Duration(*r.TimeoutSeconds) * time.Second
	}

	cfg := defaults
	if pc := r.ProcessingConfig; pc != nil {
		if pc.Concurrency != nil {
			if *pc.Concurrency < 1 || *pc.Concurrency > 10 {
				return harvest.WorkflowRequest{}, "processing_config.concurrency must be 1-10"
			}
			cfg.Concurrency = *pc.Concurrency
		}
		if pc.BatchSize != nil {
			if *pc.BatchSize < 1 || *pc.BatchSize > 50 {
				return harvest.WorkflowRequest{}, "processing_config.batch_size must be 1-50"
			}
			cfg.BatchSize = *pc.BatchSize
		}
		if pc.SimilarityThreshold != nil {
			if *pc.SimilarityThreshold < 0.5 || *pc.SimilarityThreshold > 0.95 {
				return harvest.WorkflowRequest{}, "processing_config.similarity_threshold must be 0.5-0.95"
			}
			cfg.SimilarityThreshold = *pc.SimilarityThreshold
		}
		if pc.MinContentQuality != nil {
			if *pc.MinContentQuality < 0 || *pc.MinContentQuality > 1 {
				return harvest.WorkflowRequest{}, "processing_config.min_content_quality_score must be 0.0-1.0"
			}
			cfg.MinContentQuality = *pc.MinContentQuality
		}
		if pc.StageTimeoutSeconds != nil {
			if *pc.StageTimeoutSeconds < 5 || *pc.StageTimeoutSeconds > 120 {
				return harvest.WorkflowRequest{}, "processing_config.stage_timeout_seconds must be 5-120"
			}
			cfg.StageTimeoutSeconds = *pc.StageTimeoutSeconds
			cfg.StageTimeout = time.Duration(*pc.StageTimeoutSeconds) * time.Second
		}
		if pc.MaxSummaryLength != nil && *pc.MaxSummaryLength > 0 {
			cfg.MaxSummaryLength = *pc.MaxSummaryLength
		}
		if pc.EnableCleaning != nil {
			cfg.EnableCleaning = *pc.EnableCleaning
		}
		if pc.EnableAnalysis != nil {
			cfg.EnableAnalysis = *pc.EnableAnalysis
		}
		if pc.EnableSummarization != nil {
			cfg.EnableSummarization = *pc.EnableSummarization
		}
		if pc.EnableExtraction != nil {
			cfg.EnableExtraction = *pc.EnableExtraction
		}
		if pc.EnableDeduplication != nil {
			cfg.EnableDeduplication = *pc.EnableDeduplication
		}
	}

	store := true
	if r.StoreResults != nil {
		store = *r.StoreResults
	}

	return harvest.WorkflowRequest{
		Query:        query,
		Config:       cfg,
		Timeout:      timeout,
		StoreResults: store,
	}, ""
}

type queryInfo struct {
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	ConfidenceScore float64 `json:"confidence_score"`
}

type resultsInfo struct {
	Items          []harvest.ProcessedItem `json:"items"`
	TotalItems     int                     `json:"total_items"`
	Succeeded      int                     `json:"succeeded"`
	Failed         int                     `json:"failed"`
	ResultsLimited bool                    `json:"results_limited"`
}

type executionMetadata struct {
	ExecutionTimeMs int64              `json:"execution_time_ms"`
	StagesTiming    map[string]float64 `json:"stages_timing"`
	CompletedStages []string           `json:"completed_stages"`
	FailedStage     string             `json:"failed_stage,omitempty"`
}

type errorInfo struct {
	Code                string   `json:"code"`
	Message             string   `json:"message"`
	RecoverySuggestions []string `json:"recovery_suggestions"`
}

type scrapeResponse struct {
	Status            string                   `json:"status"`
	WorkflowID        string                   `json:"workflow_id,omitempty"`
	Query             queryInfo                `json:"query"`
	Results           resultsInfo              `json:"results"`
	DuplicateGroups   []harvest.DuplicateGroup `json:"duplicate_groups"`
	Warnings          []harvest.Warning        `json:"warnings"`
	Error             *errorInfo               `json:"error,omitempty"`
	ExecutionMetadata executionMetadata        `json:"execution_metadata"`
	Cached            bool                     `json:"cached"`
	CacheAgeSeconds   float64                  `json:"cache_age_seconds"`
}

func toScrapeResponse(result harvest.WorkflowResult) scrapeResponse {
	status := string(result.Status)
	if result.Status == harvest.StatusFailed {
		status = "error"
	}
	items := result.Items
	if items == nil {
		items = []harvest.ProcessedItem{}
	}
	groups := result.Groups
	if groups == nil {
		groups = []harvest.DuplicateGroup{}
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []harvest.Warning{}
	}

	resp := scrapeResponse{
		Status:     status,
		WorkflowID: result.WorkflowID,
		Query: queryInfo{
			Text:            result.Query.Text,
			Category:        result.Query.Category,
			ConfidenceScore: result.Query.ConfidenceScore,
		},
		Results: resultsInfo{
			Items:          items,
			TotalItems:     result.TotalItems,
			Succeeded:      result.Succeeded,
			Failed:         result.Failed,
			ResultsLimited: result.ResultsLimited,
		},
		DuplicateGroups: groups,
		Warnings:        warnings,
		ExecutionMetadata: executionMetadata{
			ExecutionTimeMs: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
			StagesTiming:    result.StageTimings,
			CompletedStages: result.CompletedStages,
			FailedStage:     result.FailedStage,
		},
		Cached:          result.Cached,
		CacheAgeSeconds: result.CacheAge.Seconds(),
	}
	if result.ErrorCode != "" {
		resp.Error = &errorInfo{
			Code:                result.ErrorCode,
			Message:             result.ErrorMessage,
			RecoverySuggestions: result.RecoverySuggestions,
		}
	}
	return resp
}
