// Package fetch implements the bounded-concurrency fetch scheduler that
// executes URL batches against the politeness guard.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/politeness"
	"github.com/quarryd/quarry/internal/retry"
	"github.com/quarryd/quarry/internal/telemetry"
)

// Config controls scheduler behavior.
type Config struct {
	Concurrency       int
	PerRequestTimeout time.Duration
	MaxContentBytes   int64
	UserAgent         string
	GlobalRPS         float64
}

// Scheduler runs fetch tasks concurrently, consulting the politeness guard
// per request and retrying transient failures with backoff.
type Scheduler struct {
	cfg     Config
	guard   *politeness.Guard
	policy  *retry.Policy
	client  *http.Client
	limiter *rate.Limiter
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds a Scheduler. A nil client falls back to a pooled default.
func New(cfg Config, guard *politeness.Guard, policy *retry.Policy, clock harvest.Clock, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PerRequestTimeout <= 0 {
		cfg.PerRequestTimeout = 15 * time.Second
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "quarry-bot/1.0"
	}
	var limiter *rate.Limiter
	if cfg.GlobalRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), 1)
	}
	return &Scheduler{
		cfg:    cfg,
		guard:  guard,
		policy: policy,
		client: &http.Client{
			Timeout: cfg.PerRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		limiter: limiter,
		clock:   clock,
		logger:  logger,
	}
}

// task tracks one URL through the scheduler. Destroyed after its result is
// folded into the batch.
type task struct {
	url      string
	domain   string
	attempts int
	status   harvest.FetchStatus
}

// FetchAll fetches every URL with at most cfg.Concurrency in flight. The
// returned batch keys every outcome by its original URL; slice order does not
// follow submission order.
func (s *Scheduler) FetchAll(ctx context.Context, urls []string) harvest.BatchResult {
	var (
		mu     sync.Mutex
		result harvest.BatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, raw := range urls {
		raw := raw
		g.Go(func() error {
			t := &task{url: raw, status: harvest.FetchPending}
			item, err := s.run(gctx, t)

			mu.Lock()
			defer mu.Unlock()
			switch t.status {
			case harvest.FetchSucceeded:
				result.Succeeded = append(result.Succeeded, item)
			case harvest.FetchSkippedByPolicy:
				result.Skipped = append(result.Skipped, harvest.SkippedFetch{
					URL:    raw,
					Reason: "disallowed by robots policy",
				})
			default:
				msg := "fetch failed"
				if err != nil {
					msg = err.Error()
				}
				result.Failed = append(result.Failed, harvest.FetchFailure{
					URL:       raw,
					Error:     msg,
					Attempts:  t.attempts,
					Transient: Transient(err),
				})
			}
			telemetry.CountFetch(string(t.status))
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (s *Scheduler) run(ctx context.Context, t *task) (harvest.FetchedItem, error) {
	parsed, err := url.Parse(t.url)
	if err != nil || parsed.Host == "" {
		t.status = harvest.FetchFailed
		return harvest.FetchedItem{}, fmt.Errorf("parse url %q: invalid target", t.url)
	}
	t.domain = strings.ToLower(parsed.Host)

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.PerRequestTimeout*time.Duration(s.policy.MaxAttempts()+1))
	defer cancel()

	if !s.guard.Allowed(taskCtx, t.url) {
		t.status = harvest.FetchSkippedByPolicy
		return harvest.FetchedItem{}, nil
	}

	t.status = harvest.FetchInFlight
	var item harvest.FetchedItem
	err = s.policy.Do(taskCtx, func(ctx context.Context) error {
		if t.attempts > 0 {
			telemetry.CountFetchRetry()
		}
		t.attempts++
		if err := s.awaitPermit(ctx, t.domain); err != nil {
			return err
		}
		fetched, ferr := s.fetchOnce(ctx, t.url)
		if ferr != nil {
			return ferr
		}
		item = fetched
		return nil
	})
	if err != nil {
		t.status = harvest.FetchFailed
		s.logger.Warn("fetch failed",
			zap.String("url", t.url),
			zap.Int("attempts", t.attempts),
			zap.Error(err))
		return harvest.FetchedItem{}, err
	}

	t.status = harvest.FetchSucceeded
	telemetry.AddFetchBytes(len(item.Body))
	return item, nil
}

// awaitPermit blocks until the politeness guard grants a slot for domain,
// sleeping exactly the advertised wait between checks. Bounded by ctx.
func (s *Scheduler) awaitPermit(ctx context.Context, domain string) error {
	for {
		allowed, wait := s.guard.Permit(domain)
		if allowed {
			break
		}
		telemetry.ObservePolitenessWait(wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("global rate limit: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) fetchOnce(ctx context.Context, target string) (harvest.FetchedItem, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.PerRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return harvest.FetchedItem{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	start := s.clock.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return harvest.FetchedItem{}, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return harvest.FetchedItem{}, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	// Read one byte past the ceiling to detect oversize bodies; oversize
	// content is truncated and flagged, never discarded.
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxContentBytes+1))
	if err != nil {
		return harvest.FetchedItem{}, fmt.Errorf("read body: %w", err)
	}
	truncated := false
	if int64(len(body)) > s.cfg.MaxContentBytes {
		body = body[:s.cfg.MaxContentBytes]
		truncated = true
		s.logger.Warn("content truncated at size ceiling",
			zap.String("url", target),
			zap.Int64("limit_bytes", s.cfg.MaxContentBytes))
	}

	return harvest.FetchedItem{
		URL:        target,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		Truncated:  truncated,
		FetchedAt:  start,
		Duration:   s.clock.Now().Sub(start),
	}, nil
}
