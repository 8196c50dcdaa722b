package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/hash/sha256"
)

func processedItem(url, text string, quality float64, at time.Time) harvest.ProcessedItem {
	return harvest.ProcessedItem{
		Fingerprint: fmt.Sprintf("fp-%s", url),
		URL:         url,
		FetchedAt:   at,
		Clean:       harvest.CleanPayload{Text: text, QualityScore: quality},
	}
}

func TestShinglesAndJaccard(t *testing.T) {
	t.Parallel()

	a := shingles("the quick brown fox jumps", 3)
	require.Len(t, a, 3)

	require.InDelta(t, 1.0, jaccard(a, a), 1e-9)
	b := shingles("entirely different words here now", 3)
	require.Zero(t, jaccard(a, b))

	// Short texts collapse to a single shingle instead of vanishing.
	short := shingles("two words", 3)
	require.Len(t, short, 1)
}

func TestGroupDuplicatesExactCopies(t *testing.T) {
	t.Parallel()

	now := time.Now()
	text := "consumer prices rose three percent year over year in the latest report"
	items := []harvest.ProcessedItem{
		processedItem("https://a.example/1", text, 0.9, now),
		processedItem("https://b.example/1", text, 0.5, now.Add(time.Second)),
	}

	cfg := harvest.DefaultProcessingConfig()
	groups := groupDuplicates(items, cfg, sha256.New())

	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, "https://a.example/1", g.Representative, "highest quality member represents the group")
	require.Len(t, g.Members, 2)
	require.InDelta(t, 1.0, g.Similarity["https://b.example/1"], 1e-9)

	require.True(t, items[0].Dedup.Representative)
	require.False(t, items[1].Dedup.Representative)
	require.Equal(t, 2, items[0].Dedup.GroupSize)
	require.Equal(t, g.ID, items[1].Dedup.GroupID)
}

func TestGroupDuplicatesTransitiveClosure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	base := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	items := []harvest.ProcessedItem{
		processedItem("https://a.example/1", base+" one", 0.5, now),
		processedItem("https://b.example/1", base+" two", 0.5, now.Add(time.Second)),
		processedItem("https://c.example/1", base+" three", 0.5, now.Add(2*time.Second)),
	}

	cfg := harvest.DefaultProcessingConfig()
	cfg.SimilarityThreshold = 0.6
	groups := groupDuplicates(items, cfg, sha256.New())

	require.Len(t, groups, 1, "near-duplicate relations close transitively")
	require.Len(t, groups[0].Members, 3)
	// Equal quality: earliest fetch represents the group.
	require.Equal(t, "https://a.example/1", groups[0].Representative)
}

func TestGroupDuplicatesBelowThresholdStaySingletons(t *testing.T) {
	t.Parallel()

	now := time.Now()
	items := []harvest.ProcessedItem{
		processedItem("https://a.example/1", "inflation data from the federal statistics office this month", 0.5, now),
		processedItem("https://b.example/1", "local football team wins championship after dramatic penalty shootout", 0.5, now),
	}

	groups := groupDuplicates(items, harvest.DefaultProcessingConfig(), sha256.New())
	require.Empty(t, groups, "singleton clusters are not reported as groups")

	for _, item := range items {
		require.True(t, item.Dedup.Representative)
		require.Equal(t, 1, item.Dedup.GroupSize)
		require.Empty(t, item.Dedup.GroupID)
	}
}

func TestGroupDuplicatesHonorsPairCap(t *testing.T) {
	t.Parallel()

	now := time.Now()
	base := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	items := []harvest.ProcessedItem{
		processedItem("https://a.example/1", base+" one", 0.5, now),
		processedItem("https://b.example/1", base+" two", 0.5, now.Add(time.Second)),
		processedItem("https://c.example/1", base+" three", 0.5, now.Add(2*time.Second)),
	}

	cfg := harvest.DefaultProcessingConfig()
	cfg.SimilarityThreshold = 0.6
	cfg.MaxSimilarityPairs = 1
	groups := groupDuplicates(items, cfg, sha256.New())

	// Only the first pair is compared under the cap, so the third item
	// cannot join the group.
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Members, 2)
	require.Equal(t, 1, items[2].Dedup.GroupSize)
}

func TestGroupDuplicatesHonorsBatchCap(t *testing.T) {
	t.Parallel()

	now := time.Now()
	base := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	unrelated := "quarterly earnings beat analyst expectations despite weaker retail demand overall"
	items := []harvest.ProcessedItem{
		processedItem("https://a.example/1", base+" one", 0.5, now),
		processedItem("https://b.example/1", unrelated, 0.5, now.Add(time.Second)),
		processedItem("https://c.example/1", base+" two", 0.5, now.Add(2*time.Second)),
	}

	cfg := harvest.DefaultProcessingConfig()
	cfg.SimilarityThreshold = 0.6
	groups := groupDuplicates(items, cfg, sha256.New())
	require.Len(t, groups, 1, "without a tight batch cap the near-duplicates pair up")
	require.ElementsMatch(t, []string{"https://a.example/1", "https://c.example/1"}, groups[0].Members)

	// With one candidate per item, each anchor only reaches its unrelated
	// neighbor and the near-duplicate pair is never compared.
	items = []harvest.ProcessedItem{
		processedItem("https://a.example/1", base+" one", 0.5, now),
		processedItem("https://b.example/1", unrelated, 0.5, now.Add(time.Second)),
		processedItem("https://c.example/1", base+" two", 0.5, now.Add(2*time.Second)),
	}
	cfg.MaxSimilarityBatch = 1
	groups = groupDuplicates(items, cfg, sha256.New())
	require.Empty(t, groups)
	for _, item := range items {
		require.Equal(t, 1, item.Dedup.GroupSize)
	}
}
