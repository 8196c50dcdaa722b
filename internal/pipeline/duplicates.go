package pipeline

import (
	"sort"
	"strings"

	"github.com/quarryd/quarry/internal/harvest"
)

const shingleSize = 3

// dsu is a union-find over item indexes, used to close duplicate relations
// transitively: if A~B and B~C then A, B, C share one group.
type dsu struct {
	parent []int
	rank   []int
}

func newDSU(n int) *dsu {
	d := &dsu{parent: make([]int, n), rank: make([]int, n)}
	for i := range d.parent {
		d.parent[i] = i
	}
	return d
}

func (d *dsu) find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

func (d *dsu) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.rank[ra] < d.rank[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	if d.rank[ra] == d.rank[rb] {
		d.rank[ra]++
	}
}

// shingles returns the set of overlapping k-word windows of text, lowercased.
// Texts shorter than k words collapse to a single shingle.
func shingles(text string, k int) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{})
	if len(words) == 0 {
		return set
	}
	if len(words) < k {
		set[strings.Join(words, " ")] = struct{}{}
		return set
	}
	for i := 0; i+k <= len(words); i++ {
		set[strings.Join(words[i:i+k], " ")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for s := range small {
		if _, ok := large[s]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// groupDuplicates assigns every item a dedup payload and returns the groups
// with two or more members. Identical clean text is an exact match; otherwise
// shingle Jaccard similarity against the configured threshold decides, with
// comparisons capped at cfg.MaxSimilarityPairs overall and at
// cfg.MaxSimilarityBatch candidates per item. The representative is the
// highest-quality member; ties break on earliest fetch time.
func groupDuplicates(items []harvest.ProcessedItem, cfg harvest.ProcessingConfig, hasher harvest.Hasher) []harvest.DuplicateGroup {
	n := len(items)
	if n == 0 {
		return nil
	}

	d := newDSU(n)
	sim := make(map[[2]int]float64)

	// Exact-duplicate fast path: same clean text hashes to the same bucket.
	exact := make(map[string][]int, n)
	for i := range items {
		key, err := hasher.Hash([]byte(items[i].Clean.Text))
		if err != nil {
			key = items[i].Fingerprint
		}
		exact[key] = append(exact[key], i)
	}
	for _, bucket := range exact {
		for i := 1; i < len(bucket); i++ {
			d.union(bucket[0], bucket[i])
			sim[pairKey(bucket[0], bucket[i])] = 1
		}
	}

	sets := make([]map[string]struct{}, n)
	for i := range items {
		sets[i] = shingles(items[i].Clean.Text, shingleSize)
	}

	pairs := 0
	maxPairs := cfg.MaxSimilarityPairs
	if maxPairs <= 0 {
		maxPairs = 50
	}
	maxBatch := cfg.MaxSimilarityBatch
	if maxBatch <= 0 {
		maxBatch = 10
	}
scan:
	for i := 0; i < n; i++ {
		candidates := 0
		for j := i + 1; j < n; j++ {
			if d.find(i) == d.find(j) {
				continue
			}
			if candidates >= maxBatch {
				break
			}
			if pairs >= maxPairs {
				break scan
			}
			pairs++
			candidates++
			s := jaccard(sets[i], sets[j])
			if s >= cfg.SimilarityThreshold {
				d.union(i, j)
				sim[pairKey(i, j)] = s
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := d.find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	var groups []harvest.DuplicateGroup
	for _, members := range byRoot {
		rep := representative(items, members)
		if len(members) == 1 {
			items[rep].Dedup = harvest.DedupPayload{
				GroupSize:      1,
				Representative: true,
			}
			continue
		}

		groupID := "grp-" + shortFingerprint(items[rep].Fingerprint)
		group := harvest.DuplicateGroup{
			ID:             groupID,
			Representative: items[rep].URL,
			Similarity:     make(map[string]float64, len(members)),
		}
		sort.Slice(members, func(a, b int) bool {
			return items[members[a]].FetchedAt.Before(items[members[b]].FetchedAt)
		})
		for _, idx := range members {
			s := memberSimilarity(sets, sim, idx, rep)
			group.Members = append(group.Members, items[idx].URL)
			group.Similarity[items[idx].URL] = s
			items[idx].Dedup = harvest.DedupPayload{
				GroupID:        groupID,
				GroupSize:      len(members),
				Representative: idx == rep,
				Similarity:     s,
			}
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].ID < groups[b].ID })
	return groups
}

// representative picks the highest quality member, earliest fetch on ties.
func representative(items []harvest.ProcessedItem, members []int) int {
	best := members[0]
	for _, idx := range members[1:] {
		cur, top := items[idx], items[best]
		switch {
		case cur.Clean.QualityScore > top.Clean.QualityScore:
			best = idx
		case cur.Clean.QualityScore == top.Clean.QualityScore && cur.FetchedAt.Before(top.FetchedAt):
			best = idx
		}
	}
	return best
}

// memberSimilarity reports similarity to the representative: recorded union
// similarity when the pair was compared directly, recomputed otherwise.
func memberSimilarity(sets []map[string]struct{}, sim map[[2]int]float64, idx, rep int) float64 {
	if idx == rep {
		return 1
	}
	if s, ok := sim[pairKey(idx, rep)]; ok {
		return s
	}
	return jaccard(sets[idx], sets[rep])
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
