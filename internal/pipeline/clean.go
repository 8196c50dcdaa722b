// Package pipeline runs the fixed per-item processing pipeline: clean,
// analyze, summarize, extract, deduplicate. Stages execute in that order and
// every processed item records exactly one outcome per stage.
package pipeline

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"

	"github.com/quarryd/quarry/internal/harvest"
)

// Elements stripped before text extraction. Boilerplate containers count
// toward neither word count nor quality.
const strippedSelectors = "script, style, noscript, iframe, svg, nav, header, footer, aside, form, button"

// cleanContent parses raw HTML into a CleanPayload. Non-HTML or unparseable
// bodies return an error; the caller records a failed stage outcome.
func cleanContent(body []byte) (harvest.CleanPayload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.CleanPayload{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strippedSelectors).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).First().AttrOr("content", ""))
	}
	description := strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", ""))
	if description == "" {
		description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).First().AttrOr("content", ""))
	}

	scope := doc.Find("body")
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	text := collapseWhitespace(scope.Text())
	words := strings.Fields(text)

	payload := harvest.CleanPayload{
		Title:       title,
		Text:        text,
		Description: description,
		WordCount:   len(words),
	}
	if len(words) > 0 {
		info := whatlanggo.Detect(text)
		if info.IsReliable() {
			payload.Language = whatlanggo.LangToString(info.Lang)
		}
	}
	payload.QualityScore = qualityScore(payload)
	return payload, nil
}

// rawPayload wraps an unfetched-through-cleaning body so downstream stages
// always see a well-formed CleanPayload. Used when cleaning is disabled.
func rawPayload(body []byte) harvest.CleanPayload {
	text := collapseWhitespace(string(body))
	return harvest.CleanPayload{
		Text:         text,
		WordCount:    len(strings.Fields(text)),
		QualityScore: 1,
	}
}

// qualityScore is a deterministic 0..1 heuristic. Length dominates; titles
// and descriptions signal curated pages.
func qualityScore(p harvest.CleanPayload) float64 {
	if p.WordCount == 0 {
		return 0
	}
	score := 0.6 * math.Min(float64(p.WordCount)/300.0, 1.0)
	if p.Title != "" {
		score += 0.2
	}
	if p.Description != "" {
		score += 0.1
	}
	if p.Language != "" {
		score += 0.1
	}
	return math.Round(score*1000) / 1000
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
