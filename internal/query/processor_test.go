package query

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func feedServer(t *testing.T, items ...[2]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>test</title>`)
		for _, item := range items {
			fmt.Fprintf(w, `<item><title>%s</title><link>%s</link></item>`, item[0], item[1])
		}
		fmt.Fprint(w, `</channel></rss>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseCategorizesByKeywords(t *testing.T) {
	t.Parallel()

	p := New(Config{DisableNewsSearch: true}, zap.NewNop())

	parsed, err := p.Parse(context.Background(), "latest inflation and cpi data for the economy")
	require.NoError(t, err)
	require.Equal(t, "economics", parsed.Category)
	require.Greater(t, parsed.ConfidenceScore, 0.5)

	parsed, err = p.Parse(context.Background(), "pictures of sunsets")
	require.NoError(t, err)
	require.Equal(t, "general", parsed.Category)
	require.InDelta(t, 0.3, parsed.ConfidenceScore, 1e-9)
}

func TestParseRejectsUnusableText(t *testing.T) {
	t.Parallel()

	p := New(Config{DisableNewsSearch: true}, zap.NewNop())
	_, err := p.Parse(context.Background(), "?! --- !!")
	require.Error(t, err)
}

func TestParseDiscoversAndRanksCandidates(t *testing.T) {
	t.Parallel()

	srv := feedServer(t,
		[2]string{"Local bake sale this weekend", "https://news.example/bake"},
		[2]string{"Inflation data shows prices rising", "https://news.example/inflation"},
		[2]string{"Inflation eases slightly", "https://news.example/easing"},
	)

	p := New(Config{Feeds: []string{srv.URL}, MaxURLs: 2, DisableNewsSearch: true}, zap.NewNop())
	parsed, err := p.Parse(context.Background(), "inflation data")
	require.NoError(t, err)

	require.Len(t, parsed.CandidateURLs, 2, "candidate list is capped at MaxURLs")
	require.Equal(t, "https://news.example/inflation", parsed.CandidateURLs[0], "best term overlap ranks first")
	require.NotContains(t, parsed.CandidateURLs, "https://news.example/bake")
}

func TestParseDeduplicatesAcrossFeeds(t *testing.T) {
	t.Parallel()

	srv := feedServer(t,
		[2]string{"Inflation report", "https://news.example/report"},
	)

	p := New(Config{Feeds: []string{srv.URL, srv.URL}, DisableNewsSearch: true}, zap.NewNop())
	parsed, err := p.Parse(context.Background(), "inflation report")
	require.NoError(t, err)
	require.Equal(t, []string{"https://news.example/report"}, parsed.CandidateURLs)
}

func TestParseSurvivesFeedFailures(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)
	alive := feedServer(t, [2]string{"Inflation news", "https://news.example/ok"})

	p := New(Config{Feeds: []string{dead.URL, alive.URL}, DisableNewsSearch: true}, zap.NewNop())
	parsed, err := p.Parse(context.Background(), "inflation news")
	require.NoError(t, err, "a dead feed degrades to fewer candidates")
	require.Equal(t, []string{"https://news.example/ok"}, parsed.CandidateURLs)
}
