// Package cohere implements the AI capability on the Cohere chat API.
package cohere

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/telemetry"
)

// maxInputChars bounds the content handed to the model per call.
const maxInputChars = 8000

// Config holds Cohere connection settings.
type Config struct {
	APIKey string
	Model  string
	// Timeout bounds one HTTP exchange with the API. Retries and the
	// per-stage budget are layered on top by the caller.
	Timeout time.Duration
}

// Client implements harvest.AICapability via single-turn chat completions
// that request strict JSON payloads.
type Client struct {
	client *cohereclient.Client
	model  string
	logger *zap.Logger
}

// New builds a Client. HTTP/1.1 is forced; the Cohere edge intermittently
// resets HTTP/2 streams.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "command-r"
	}
	httpClient := newHTTPClient(cfg.Timeout)
	return &Client{
		client: cohereclient.NewClient(
			cohereclient.WithToken(cfg.APIKey),
			cohereclient.WithHTTPClient(httpClient),
		),
		model:  cfg.Model,
		logger: logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
}

// Transient reports whether an API error is worth retrying: rate limiting,
// server-side failures, and timeouts. Auth and quota errors fail fast.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// Analyze asks the model for topics, sentiment, relevance and insights.
func (c *Client) Analyze(ctx context.Context, in harvest.AIInput) (harvest.AnalysisPayload, error) {
	prompt := fmt.Sprintf(`Analyze the following content in the context of the search query %q.
Respond with only a JSON object, no prose, shaped exactly like:
{"topics": ["..."], "sentiment": "positive|neutral|negative", "relevance": 0.0, "insights": ["..."]}
relevance is 0..1 against the query.

Title: %s
Content: %s`, in.Query, in.Title, clip(in.Text))

	var payload harvest.AnalysisPayload
	if err := c.chatJSON(ctx, "analyze", prompt, &payload); err != nil {
		return harvest.AnalysisPayload{}, err
	}
	if payload.Topics == nil {
		payload.Topics = []string{}
	}
	if payload.Insights == nil {
		payload.Insights = []string{}
	}
	payload.Relevance = clamp01(payload.Relevance)
	return payload, nil
}

// Summarize asks the model for a summary capped at maxLength characters.
func (c *Client) Summarize(ctx context.Context, in harvest.AIInput, maxLength int) (harvest.SummaryPayload, error) {
	if maxLength <= 0 {
		maxLength = 500
	}
	prompt := fmt.Sprintf(`Summarize the following content for someone researching %q.
Respond with only a JSON object shaped exactly like:
{"summary": "at most %d characters", "key_points": ["..."]}

Title: %s
Content: %s`, in.Query, maxLength, in.Title, clip(in.Text))

	var payload harvest.SummaryPayload
	if err := c.chatJSON(ctx, "summarize", prompt, &payload); err != nil {
		return harvest.SummaryPayload{}, err
	}
	if payload.KeyPoints == nil {
		payload.KeyPoints = []string{}
	}
	payload.Summary = truncate(payload.Summary, maxLength)
	return payload, nil
}

// Extract asks the model for structured name/value facts.
func (c *Client) Extract(ctx context.Context, in harvest.AIInput) (harvest.ExtractionPayload, error) {
	prompt := fmt.Sprintf(`Extract concrete facts (figures, dates, names, quantities) from the
following content relevant to %q. Respond with only a JSON object shaped exactly like:
{"facts": [{"name": "...", "value": "..."}]}

Title: %s
Content: %s`, in.Query, in.Title, clip(in.Text))

	var payload harvest.ExtractionPayload
	if err := c.chatJSON(ctx, "extract", prompt, &payload); err != nil {
		return harvest.ExtractionPayload{}, err
	}
	if payload.Facts == nil {
		payload.Facts = []harvest.ExtractedFact{}
	}
	return payload, nil
}

func (c *Client) chatJSON(ctx context.Context, op, prompt string, out any) error {
	resp, err := c.client.Chat(ctx, &cohere.ChatRequest{
		Message: prompt,
		Model:   &c.model,
	})
	if err != nil {
		telemetry.CountAICall(op, "error")
		return fmt.Errorf("cohere %s: %w", op, err)
	}
	if resp == nil || resp.Text == "" {
		telemetry.CountAICall(op, "error")
		return fmt.Errorf("cohere %s: empty response", op)
	}
	if err := json.Unmarshal([]byte(jsonBlock(resp.Text)), out); err != nil {
		telemetry.CountAICall(op, "error")
		c.logger.Debug("unparseable model output", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("cohere %s: decode model output: %w", op, err)
	}
	telemetry.CountAICall(op, "ok")
	return nil
}

// jsonBlock strips prose and code fences around the first JSON object in the
// model output.
func jsonBlock(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func clip(s string) string {
	return truncate(s, maxInputChars)
}

// truncate cuts s to at most max runes, never splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
