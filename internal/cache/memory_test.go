package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/hash/sha256"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func resultFor(query string) harvest.WorkflowResult {
	return harvest.WorkflowResult{
		WorkflowID: "wf-" + query,
		Status:     harvest.StatusSuccess,
		Query:      harvest.ParsedQuery{Text: query},
	}
}

func TestMemoryPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewMemory(4, time.Minute, clock)
	ctx := context.Background()

	m.Put(ctx, "k1", resultFor("inflation data"))
	got, age, ok := m.Get(ctx, "k1")
	require.True(t, ok)
	require.Equal(t, "wf-inflation data", got.WorkflowID)
	require.Zero(t, age)

	clock.Advance(10 * time.Second)
	_, age, ok = m.Get(ctx, "k1")
	require.True(t, ok)
	require.Equal(t, 10*time.Second, age)
}

func TestMemoryExpiresEntriesLazily(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewMemory(4, time.Minute, clock)
	ctx := context.Background()

	m.Put(ctx, "k1", resultFor("q"))
	clock.Advance(time.Minute)

	_, _, ok := m.Get(ctx, "k1")
	require.False(t, ok, "entry at TTL must be treated as expired")

	stats := m.Stats()
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, uint64(1), stats.Evictions)
	require.Zero(t, stats.Size)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewMemory(2, time.Hour, clock)
	ctx := context.Background()

	m.Put(ctx, "a", resultFor("a"))
	m.Put(ctx, "b", resultFor("b"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, _, ok := m.Get(ctx, "a")
	require.True(t, ok)

	m.Put(ctx, "c", resultFor("c"))

	_, _, ok = m.Get(ctx, "b")
	require.False(t, ok, "least recently used entry must be evicted")
	_, _, ok = m.Get(ctx, "a")
	require.True(t, ok)
	_, _, ok = m.Get(ctx, "c")
	require.True(t, ok)
}

func TestMemoryPutRefreshesExistingEntry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewMemory(4, time.Minute, clock)
	ctx := context.Background()

	m.Put(ctx, "k1", resultFor("old"))
	clock.Advance(50 * time.Second)
	m.Put(ctx, "k1", resultFor("new"))
	clock.Advance(30 * time.Second)

	got, age, ok := m.Get(ctx, "k1")
	require.True(t, ok, "rewritten entry carries a fresh TTL")
	require.Equal(t, "wf-new", got.WorkflowID)
	require.Equal(t, 30*time.Second, age)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewMemory(16, time.Hour, clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", (n+j)%20)
				m.Put(ctx, key, resultFor(key))
				m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	stats := m.Stats()
	require.LessOrEqual(t, stats.Size, 16)
}

func TestNormalizeQueryCanonicalizes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "latest ai research", NormalizeQuery("  Latest   AI\tResearch "))
	require.Equal(t, NormalizeQuery("CPI data"), NormalizeQuery("cpi DATA"))
}

func TestFingerprintVariesWithOutputAffectingConfig(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	base := harvest.DefaultProcessingConfig()

	k1, err := Fingerprint(h, "Latest AI Research", base)
	require.NoError(t, err)
	k2, err := Fingerprint(h, "  latest   ai research ", base)
	require.NoError(t, err)
	require.Equal(t, k1, k2, "query normalization must fold into one key")

	changed := base
	changed.SimilarityThreshold = 0.9
	k3, err := Fingerprint(h, "Latest AI Research", changed)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	// Concurrency does not change output, so it must not change the key.
	tuned := base
	tuned.Concurrency = 2
	k4, err := Fingerprint(h, "Latest AI Research", tuned)
	require.NoError(t, err)
	require.Equal(t, k1, k4)
}
