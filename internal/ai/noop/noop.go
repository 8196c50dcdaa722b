// Package noop provides an AI capability that performs no model calls.
// It is selected when no AI provider is configured; stages complete with
// well-formed placeholder payloads.
package noop

import (
	"context"

	"github.com/quarryd/quarry/internal/harvest"
)

// Capability implements harvest.AICapability without external calls.
type Capability struct{}

// New returns a no-op capability.
func New() *Capability {
	return &Capability{}
}

// Analyze returns the placeholder analysis.
func (*Capability) Analyze(_ context.Context, _ harvest.AIInput) (harvest.AnalysisPayload, error) {
	return harvest.EmptyAnalysis(), nil
}

// Summarize returns the placeholder summary.
func (*Capability) Summarize(_ context.Context, _ harvest.AIInput, _ int) (harvest.SummaryPayload, error) {
	return harvest.EmptySummary(), nil
}

// Extract returns the placeholder extraction.
func (*Capability) Extract(_ context.Context, _ harvest.AIInput) (harvest.ExtractionPayload, error) {
	return harvest.EmptyExtraction(), nil
}
