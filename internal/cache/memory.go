package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/telemetry"
)

// Memory is a capacity-bounded in-process cache. Eviction is
// least-recently-used; a TTL independently expires entries regardless of
// recency, checked lazily on read. Safe for concurrent use.
type Memory struct {
	capacity int
	ttl      time.Duration
	clock    harvest.Clock

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64
}

type memoryEntry struct {
	key       string
	result    harvest.WorkflowResult
	createdAt time.Time
}

// NewMemory builds a Memory cache.
func NewMemory(capacity int, ttl time.Duration, clock harvest.Clock) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the stored result and its age. Expired entries are evicted and
// reported as misses. Access refreshes LRU order, not the TTL.
func (m *Memory) Get(_ context.Context, key string) (harvest.WorkflowResult, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses++
		telemetry.CountCacheEvent("miss")
		return harvest.WorkflowResult{}, 0, false
	}
	entry := el.Value.(*memoryEntry)
	age := m.clock.Now().Sub(entry.createdAt)
	if age >= m.ttl {
		m.removeLocked(el)
		m.misses++
		m.evictions++
		telemetry.CountCacheEvent("miss")
		telemetry.CountCacheEvent("eviction")
		return harvest.WorkflowResult{}, 0, false
	}
	m.order.MoveToFront(el)
	m.hits++
	telemetry.CountCacheEvent("hit")
	return entry.result, age, true
}

// Put stores a result snapshot, evicting the least recently used entry under
// capacity pressure.
func (m *Memory) Put(_ context.Context, key string, result harvest.WorkflowResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.result = result
		entry.createdAt = now
		m.order.MoveToFront(el)
		return
	}
	if len(m.entries) >= m.capacity {
		if back := m.order.Back(); back != nil {
			m.removeLocked(back)
			m.evictions++
			telemetry.CountCacheEvent("eviction")
		}
	}
	el := m.order.PushFront(&memoryEntry{key: key, result: result, createdAt: now})
	m.entries[key] = el
}

// Stats returns a point-in-time snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Size:      len(m.entries),
	}
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(el)
}
