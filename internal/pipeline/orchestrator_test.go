package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/clock/system"
	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/hash/sha256"
	"github.com/quarryd/quarry/internal/retry"
)

type fakeAI struct {
	mu    sync.Mutex
	calls map[string]int

	analyzeErr   error
	summarizeErr error
	extractErr   error
	analyzeErrOn string
}

func (f *fakeAI) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
}

func (f *fakeAI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAI) Analyze(_ context.Context, in harvest.AIInput) (harvest.AnalysisPayload, error) {
	f.record("analyze")
	if f.analyzeErr != nil {
		return harvest.AnalysisPayload{}, f.analyzeErr
	}
	if f.analyzeErrOn != "" && strings.Contains(in.Title, f.analyzeErrOn) {
		return harvest.AnalysisPayload{}, errors.New("model overloaded")
	}
	return harvest.AnalysisPayload{
		Topics:    []string{"economy"},
		Sentiment: "neutral",
		Relevance: 0.8,
		Insights:  []string{"prices rose"},
	}, nil
}

func (f *fakeAI) Summarize(_ context.Context, _ harvest.AIInput, maxLength int) (harvest.SummaryPayload, error) {
	f.record("summarize")
	if f.summarizeErr != nil {
		return harvest.SummaryPayload{}, f.summarizeErr
	}
	summary := strings.Repeat("s", maxLength/2)
	return harvest.SummaryPayload{Summary: summary, KeyPoints: []string{"point"}}, nil
}

func (f *fakeAI) Extract(_ context.Context, _ harvest.AIInput) (harvest.ExtractionPayload, error) {
	f.record("extract")
	if f.extractErr != nil {
		return harvest.ExtractionPayload{}, f.extractErr
	}
	return harvest.ExtractionPayload{
		Facts: []harvest.ExtractedFact{{Name: "rate", Value: "3.2%"}},
	}, nil
}

func newTestOrchestrator(ai harvest.AICapability) *Orchestrator {
	policy := retry.New(retry.WithMaxAttempts(1))
	return New(ai, policy, sha256.New(), system.New(), zap.NewNop())
}

func page(title, body string) []byte {
	return []byte(fmt.Sprintf(
		`<html><head><title>%s</title><meta name="description" content="about %s"></head><body><p>%s</p></body></html>`,
		title, title, body))
}

func richText() string {
	return strings.Repeat("Consumer prices increased moderately this quarter according to the latest published figures. ", 30)
}

func fetchedAt(body []byte, url string, at time.Time) harvest.FetchedItem {
	return harvest.FetchedItem{URL: url, FinalURL: url, StatusCode: 200, Body: body, FetchedAt: at}
}

func testQuery() harvest.ParsedQuery {
	return harvest.ParsedQuery{Text: "latest inflation data", Category: "economics", ConfidenceScore: 0.9}
}

func TestProcessRunsEveryStagePerItem(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	o := newTestOrchestrator(ai)
	now := time.Now()
	fetched := []harvest.FetchedItem{
		fetchedAt(page("First", richText()), "https://a.example/1", now),
		fetchedAt(page("Second", "completely different words about weather patterns and local sports results"), "https://b.example/1", now),
	}

	res := o.Process(context.Background(), testQuery(), fetched, harvest.DefaultProcessingConfig())
	require.Len(t, res.Items, 2)

	for _, item := range res.Items {
		require.Len(t, item.Outcomes, len(harvest.PipelineStages()))
		for i, stage := range harvest.PipelineStages() {
			require.Equal(t, stage, item.Outcomes[i].Stage, "outcomes must follow stage order")
			require.Equal(t, harvest.OutcomeCompleted, item.Outcomes[i].Status)
		}
		require.NotEmpty(t, item.Fingerprint)
		require.NotEmpty(t, item.Clean.Text)
		require.Equal(t, []string{"economy"}, item.Analysis.Topics)
		require.NotEmpty(t, item.Summary.Summary)
		require.Len(t, item.Extraction.Facts, 1)
	}
	require.Equal(t, 2, ai.count("analyze"))

	// Fingerprints derive from URL and extracted title.
	want, err := sha256.New().Hash([]byte("https://a.example/1|First"))
	require.NoError(t, err)
	require.Equal(t, want, res.Items[0].Fingerprint)
	require.Equal(t, 2, ai.count("summarize"))
	require.Equal(t, 2, ai.count("extract"))
}

func TestProcessDisabledStagesAreSkippedWithPlaceholders(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	o := newTestOrchestrator(ai)
	cfg := harvest.DefaultProcessingConfig()
	cfg.EnableAnalysis = false
	cfg.EnableSummarization = false
	cfg.EnableExtraction = false
	cfg.EnableDeduplication = false

	fetched := []harvest.FetchedItem{fetchedAt(page("Only", richText()), "https://a.example/1", time.Now())}
	res := o.Process(context.Background(), testQuery(), fetched, cfg)
	require.Len(t, res.Items, 1)
	item := res.Items[0]

	for _, stage := range []harvest.Stage{harvest.StageAnalyze, harvest.StageSummarize, harvest.StageExtract, harvest.StageDeduplicate} {
		outcome, ok := item.Outcome(stage)
		require.True(t, ok)
		require.Equal(t, harvest.OutcomeSkipped, outcome.Status)
		require.Equal(t, harvest.SkipReasonDisabled, outcome.Reason)
	}

	// Skipped stages leave well-formed placeholder payloads.
	require.NotNil(t, item.Analysis.Topics)
	require.Empty(t, item.Analysis.Topics)
	require.NotNil(t, item.Summary.KeyPoints)
	require.NotNil(t, item.Extraction.Facts)
	require.True(t, item.Dedup.Representative)
	require.Equal(t, 1, item.Dedup.GroupSize)
	require.Zero(t, ai.count("analyze"))
}

func TestProcessAIFailureStaysItemLocal(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{analyzeErrOn: "Broken"}
	o := newTestOrchestrator(ai)
	now := time.Now()
	fetched := []harvest.FetchedItem{
		fetchedAt(page("Broken", richText()), "https://a.example/bad", now),
		fetchedAt(page("Healthy", "entirely unrelated text on gardening tips and seasonal planting schedules"), "https://b.example/ok", now),
	}

	res := o.Process(context.Background(), testQuery(), fetched, harvest.DefaultProcessingConfig())
	require.Len(t, res.Items, 2)

	var broken, healthy harvest.ProcessedItem
	for _, item := range res.Items {
		if item.URL == "https://a.example/bad" {
			broken = item
		} else {
			healthy = item
		}
	}

	outcome, ok := broken.Outcome(harvest.StageAnalyze)
	require.True(t, ok)
	require.Equal(t, harvest.OutcomeFailed, outcome.Status)
	require.Contains(t, outcome.Error, "model overloaded")
	require.NotNil(t, broken.Analysis.Topics, "failed stage keeps the placeholder payload")
	require.Empty(t, broken.Analysis.Topics)

	// The failure does not cascade to later stages or sibling items.
	sum, ok := broken.Outcome(harvest.StageSummarize)
	require.True(t, ok)
	require.Equal(t, harvest.OutcomeCompleted, sum.Status)
	an, ok := healthy.Outcome(harvest.StageAnalyze)
	require.True(t, ok)
	require.Equal(t, harvest.OutcomeCompleted, an.Status)

	var found bool
	for _, w := range res.Warnings {
		if w.Code == harvest.WarnStageFailure && strings.Contains(w.Message, "analyze") {
			found = true
		}
	}
	require.True(t, found, "stage failure must surface as a warning")
}

func TestProcessQualityGateFlagsWithoutDropping(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	o := newTestOrchestrator(ai)
	fetched := []harvest.FetchedItem{
		fetchedAt(page("Thin", "three short words"), "https://a.example/thin", time.Now()),
	}

	res := o.Process(context.Background(), testQuery(), fetched, harvest.DefaultProcessingConfig())
	require.Len(t, res.Items, 1, "low quality items are flagged, never dropped")
	item := res.Items[0]
	require.True(t, item.LowQuality)
	require.Less(t, item.Clean.QualityScore, harvest.DefaultProcessingConfig().MinContentQuality)

	outcome, ok := item.Outcome(harvest.StageAnalyze)
	require.True(t, ok)
	require.Equal(t, harvest.OutcomeCompleted, outcome.Status, "low quality still flows through AI stages")

	var found bool
	for _, w := range res.Warnings {
		if w.Code == harvest.WarnLowQuality {
			found = true
		}
	}
	require.True(t, found)
}

func TestProcessEmptyContentSkipsAIStages(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{}
	o := newTestOrchestrator(ai)
	fetched := []harvest.FetchedItem{
		fetchedAt([]byte("<html><head><title></title></head><body><script>x()</script></body></html>"), "https://a.example/empty", time.Now()),
	}

	res := o.Process(context.Background(), testQuery(), fetched, harvest.DefaultProcessingConfig())
	require.Len(t, res.Items, 1)
	item := res.Items[0]

	for _, stage := range []harvest.Stage{harvest.StageAnalyze, harvest.StageSummarize, harvest.StageExtract} {
		outcome, ok := item.Outcome(stage)
		require.True(t, ok)
		require.Equal(t, harvest.OutcomeSkipped, outcome.Status)
		require.Equal(t, skipReasonEmpty, outcome.Reason)
	}
	require.Zero(t, ai.count("analyze"), "empty content must not reach the model")
	require.Zero(t, ai.count("summarize"))
	require.Zero(t, ai.count("extract"))
}

func TestProcessEmptyBatch(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&fakeAI{})
	res := o.Process(context.Background(), testQuery(), nil, harvest.DefaultProcessingConfig())
	require.Empty(t, res.Items)
	require.Empty(t, res.Groups)
	require.Empty(t, res.Warnings)
}
