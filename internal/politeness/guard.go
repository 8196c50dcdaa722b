// Package politeness enforces per-domain crawl politeness: minimum delay
// between requests and cached robots.txt rulesets.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/harvest"
)

// Config controls guard behavior.
type Config struct {
	DefaultDelay  time.Duration
	RobotsTTL     time.Duration
	RespectRobots bool
	UserAgent     string
	FetchTimeout  time.Duration
}

// Guard is the politeness authority consulted before every fetch. Domain
// state is created lazily and mutated only here, each domain under its own
// lock.
type Guard struct {
	cfg    Config
	clock  harvest.Clock
	logger *zap.Logger
	client *http.Client

	mu      sync.Mutex // guards the map itself, not the entries
	domains map[string]*domainState
}

type domainState struct {
	mu            sync.Mutex
	lastRequest   time.Time
	delay         time.Duration
	robots        *robotstxt.RobotsData
	robotsFetched time.Time
}

// New builds a Guard.
func New(cfg Config, clock harvest.Clock, logger *zap.Logger) *Guard {
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = time.Second
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "quarry-bot/1.0"
	}
	return &Guard{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		domains: make(map[string]*domainState),
	}
}

func (g *Guard) state(domain string) *domainState {
	key := strings.ToLower(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.domains[key]
	if !ok {
		st = &domainState{delay: g.cfg.DefaultDelay}
		g.domains[key] = st
	}
	return st
}

// Permit reports whether a request to domain may proceed now. When allowed it
// atomically records the request time; otherwise it returns how long the
// caller must wait before asking again. Callers re-schedule, never busy-wait.
func (g *Guard) Permit(domain string) (bool, time.Duration) {
	st := g.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.clock.Now()
	waitUntil := st.lastRequest.Add(st.delay)
	if now.Before(waitUntil) {
		return false, waitUntil.Sub(now)
	}
	st.lastRequest = now
	return true, 0
}

// Allowed reports whether the URL may be fetched under the domain's robots
// ruleset. Robots fetch failures are swallowed: politeness is best-effort and
// a missing ruleset means no additional restriction.
func (g *Guard) Allowed(ctx context.Context, rawURL string) bool {
	if !g.cfg.RespectRobots {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data := g.ruleset(ctx, parsed)
	if data == nil {
		return true
	}
	group := data.FindGroup(g.cfg.UserAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// EffectiveDelay exposes the current delay for a domain (max of the
// configured default and the robots crawl-delay once loaded).
func (g *Guard) EffectiveDelay(domain string) time.Duration {
	st := g.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.delay
}

// ruleset returns the cached robots data for the URL's host, fetching at most
// once per TTL window. Returns nil when no ruleset is available.
func (g *Guard) ruleset(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	st := g.state(parsed.Host)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.clock.Now()
	if !st.robotsFetched.IsZero() && now.Sub(st.robotsFetched) < g.cfg.RobotsTTL {
		return st.robots
	}

	// Holding the domain lock serializes robots fetches per domain.
	st.robotsFetched = now
	data, err := g.fetchRobots(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; treating as unrestricted",
			zap.String("host", parsed.Host), zap.Error(err))
		st.robots = nil
		return nil
	}
	st.robots = data

	if group := data.FindGroup(g.cfg.UserAgent); group != nil && group.CrawlDelay > st.delay {
		st.delay = group.CrawlDelay
		g.logger.Debug("robots crawl-delay raised effective delay",
			zap.String("host", parsed.Host), zap.Duration("delay", st.delay))
	}
	return data
}

func (g *Guard) fetchRobots(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
