// Package cache implements the whole-request response cache: a request
// fingerprint maps to a previously computed workflow result.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quarryd/quarry/internal/harvest"
)

// ResponseCache stores workflow results keyed by request fingerprint. A
// cache must never fail a workflow: unavailable backends degrade to
// always-miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) (harvest.WorkflowResult, time.Duration, bool)
	Put(ctx context.Context, key string, result harvest.WorkflowResult)
	Stats() Stats
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// NormalizeQuery canonicalizes query text for fingerprinting: trimmed,
// lowercased, inner whitespace collapsed.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Fingerprint derives the cache key from the normalized query plus the
// subset of processing configuration that affects output.
func Fingerprint(h harvest.Hasher, query string, cfg harvest.ProcessingConfig) (string, error) {
	material := fmt.Sprintf("%s|clean=%t|analyze=%t|summarize=%t|extract=%t|dedup=%t|sim=%.3f|minq=%.3f|sumlen=%d",
		NormalizeQuery(query),
		cfg.EnableCleaning,
		cfg.EnableAnalysis,
		cfg.EnableSummarization,
		cfg.EnableExtraction,
		cfg.EnableDeduplication,
		cfg.SimilarityThreshold,
		cfg.MinContentQuality,
		cfg.MaxSummaryLength,
	)
	key, err := h.Hash([]byte(material))
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	return key, nil
}
