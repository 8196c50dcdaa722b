// Package query turns natural-language query text into a categorized query
// with candidate URLs discovered from syndication feeds.
package query

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/quarryd/quarry/internal/harvest"
)

// Config controls candidate discovery.
type Config struct {
	// Feeds are additional RSS/Atom sources consulted for every query.
	Feeds []string
	// MaxURLs caps the candidate list handed to the fetch scheduler.
	MaxURLs int
	// DisableNewsSearch turns off the derived news search feed, leaving
	// only configured feeds. Used in tests and air-gapped deployments.
	DisableNewsSearch bool
}

// Processor implements harvest.QueryUnderstanding with a keyword categorizer
// and feed-based URL discovery.
type Processor struct {
	cfg    Config
	parser *gofeed.Parser
	logger *zap.Logger
}

// New builds a Processor.
func New(cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = 10
	}
	return &Processor{cfg: cfg, parser: gofeed.NewParser(), logger: logger}
}

var categoryKeywords = map[string][]string{
	"economics":  {"inflation", "cpi", "price", "prices", "economy", "economic", "market", "markets", "gdp", "interest", "rates", "unemployment", "fed", "treasury"},
	"technology": {"ai", "software", "technology", "tech", "computing", "startup", "cloud", "data", "robotics", "chip", "internet", "cybersecurity"},
	"science":    {"research", "study", "science", "scientists", "climate", "physics", "biology", "space", "astronomy", "genetics"},
	"health":     {"health", "disease", "vaccine", "medical", "medicine", "hospital", "nutrition", "mental"},
	"sports":     {"game", "match", "team", "league", "championship", "tournament", "score", "season", "playoffs"},
	"politics":   {"election", "government", "policy", "senate", "congress", "president", "legislation", "vote"},
}

// Parse categorizes the query and discovers candidate URLs. Feed failures
// degrade to fewer candidates; only unusable query text is an error.
func (p *Processor) Parse(ctx context.Context, text string) (harvest.ParsedQuery, error) {
	terms := tokenize(text)
	if len(terms) == 0 {
		return harvest.ParsedQuery{}, fmt.Errorf("parse query: no usable terms in %q", text)
	}

	category, confidence := categorize(terms)
	parsed := harvest.ParsedQuery{
		Text:            strings.TrimSpace(text),
		Category:        category,
		ConfidenceScore: confidence,
		CandidateURLs:   p.discover(ctx, terms),
	}
	return parsed, nil
}

// discover collects feed entries from every source, ranks them by term
// overlap with the query, and returns the top MaxURLs links.
func (p *Processor) discover(ctx context.Context, terms []string) []string {
	sources := make([]string, 0, len(p.cfg.Feeds)+1)
	sources = append(sources, p.cfg.Feeds...)
	if !p.cfg.DisableNewsSearch {
		sources = append(sources, newsSearchFeed(terms))
	}

	type candidate struct {
		link  string
		score int
		order int
	}
	var candidates []candidate
	seen := map[string]bool{}

	for _, src := range sources {
		feed, err := p.parser.ParseURLWithContext(src, ctx)
		if err != nil {
			p.logger.Warn("candidate feed unavailable", zap.String("feed", src), zap.Error(err))
			continue
		}
		for _, entry := range feed.Items {
			if entry.Link == "" || seen[entry.Link] {
				continue
			}
			seen[entry.Link] = true
			candidates = append(candidates, candidate{
				link:  entry.Link,
				score: overlap(terms, entry.Title+" "+entry.Description),
				order: len(candidates),
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].order < candidates[b].order
	})
	if len(candidates) > p.cfg.MaxURLs {
		candidates = candidates[:p.cfg.MaxURLs]
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.link)
	}
	return urls
}

// categorize picks the category with the most keyword hits. No hits means
// "general" with a floor confidence.
func categorize(terms []string) (string, float64) {
	termSet := make(map[string]bool, len(terms))
	for _, t := range terms {
		termSet[t] = true
	}

	best, bestHits := "general", 0
	// Deterministic iteration so equal-hit ties do not flap between runs.
	names := make([]string, 0, len(categoryKeywords))
	for name := range categoryKeywords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hits := 0
		for _, kw := range categoryKeywords[name] {
			if termSet[kw] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = name, hits
		}
	}

	if bestHits == 0 {
		return "general", 0.3
	}
	confidence := 0.5 + float64(bestHits)/float64(len(terms))*0.5
	if confidence > 0.95 {
		confidence = 0.95
	}
	return best, confidence
}

func newsSearchFeed(terms []string) string {
	return "https://news.google.com/rss/search?q=" + url.QueryEscape(strings.Join(terms, " "))
}

func overlap(terms []string, text string) int {
	hay := make(map[string]bool)
	for _, w := range tokenize(text) {
		hay[w] = true
	}
	score := 0
	for _, t := range terms {
		if hay[t] {
			score++
		}
	}
	return score
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
