package harvest

import "fmt"

// Machine-readable workflow error codes.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeWorkflowTimeout = "WORKFLOW_TIMEOUT"
	CodeQueryProcessing = "QUERY_PROCESSING_ERROR"
	CodeScraping        = "SCRAPING_ERROR"
	CodeNoContent       = "NO_CONTENT_FOUND"
	CodeProcessing      = "PROCESSING_ERROR"
	CodeStorage         = "STORAGE_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
)

// Warning codes embedded in results.
const (
	WarnScrapeFailure = "scrape_failure"
	WarnScrapeSkipped = "scrape_skipped"
	WarnStageFailure  = "stage_failure"
	WarnStorageFailed = "storage_failed"
	WarnCacheDegraded = "cache_degraded"
	WarnLowQuality    = "low_quality"
)

// WorkflowError is a business-level failure with a machine-readable code.
type WorkflowError struct {
	Code    string
	Message string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewWorkflowError builds a WorkflowError.
func NewWorkflowError(code, format string, args ...any) *WorkflowError {
	return &WorkflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var recoverySuggestions = map[string][]string{
	CodeValidation: {
		"Ensure query text is within length limits (3-1000 characters)",
		"Check processing_config values against their documented ranges",
	},
	CodeWorkflowTimeout: {
		"Try increasing the timeout_seconds parameter",
		"Simplify your query to reduce processing time",
		"Disable optional pipeline stages to shorten the workflow",
	},
	CodeQueryProcessing: {
		"Check your query text for special characters or formatting issues",
		"Try rephrasing your query more clearly",
	},
	CodeScraping: {
		"Try a more specific query to target different websites",
		"Retry later; target sites may be temporarily unavailable",
	},
	CodeNoContent: {
		"Try broadening your search query",
		"Check if your query topic has available online content",
	},
	CodeProcessing: {
		"Retry the request; processing failures are often transient",
	},
	CodeStorage: {
		"Results were returned but not persisted; retry with store_results=true later",
	},
	CodeExternalService: {
		"Retry the request; the AI service may be rate limiting",
		"Check the configured AI provider credentials",
	},
}

// SuggestionsFor returns at least one recovery suggestion for a code.
func SuggestionsFor(code string) []string {
	if s, ok := recoverySuggestions[code]; ok {
		return s
	}
	return []string{"Retry the request; if the problem persists contact the operator"}
}
