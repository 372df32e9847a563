package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-memory Store.
//
// Every partition carries its own lock, so operations on independent
// partitions never contend. Holding the partition lock for the duration of
// a Put or eviction pass gives the per-operation atomicity and serialized
// eviction the Store contract requires.
type Memory struct {
	now   func() time.Time
	parts map[string]*memPartition
}

type memPartition struct {
	mu      sync.Mutex
	budget  Budget
	entries map[string]*memEntry
	size    int64
}

type memEntry struct {
	payload  []byte
	cachedAt time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a Memory store with the given fixed partition budgets.
// The partition set cannot change after construction.
func NewMemory(budgets map[string]Budget, opts ...MemoryOption) *Memory {
	m := &Memory{
		now:   time.Now,
		parts: make(map[string]*memPartition, len(budgets)),
	}
	for name, b := range budgets {
		m.parts[name] = &memPartition{
			budget:  b,
			entries: make(map[string]*memEntry),
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, partition, key string) ([]byte, bool) {
	p, ok := m.parts[partition]
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	if expired(e.cachedAt, p.budget.MaxAge, m.now()) {
		// Expired entries stay until the next eviction pass.
		return nil, false
	}
	return slices.Clone(e.payload), true
}

// GetStale implements Stale: it returns the payload even past max age.
func (m *Memory) GetStale(_ context.Context, partition, key string) ([]byte, bool) {
	p, ok := m.parts[partition]
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.payload), true
}

// Put implements Store. The insert and the follow-up eviction happen under
// one lock acquisition, so no reader observes the partition over budget
// mid-operation.
func (m *Memory) Put(_ context.Context, partition, key string, payload []byte) error {
	p, ok := m.parts[partition]
	if !ok {
		return ErrUnknownPartition
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.entries[key]; ok {
		p.size -= int64(len(old.payload))
	}
	p.entries[key] = &memEntry{
		payload:  slices.Clone(payload),
		cachedAt: m.now(),
	}
	p.size += int64(len(payload))

	p.evictLocked(m.now())
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, partition, key string) error {
	p, ok := m.parts[partition]
	if !ok {
		return ErrUnknownPartition
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		p.size -= int64(len(e.payload))
		delete(p.entries, key)
	}
	return nil
}

// EvictIfOverBudget implements Store.
func (m *Memory) EvictIfOverBudget(_ context.Context, partition string) (int64, error) {
	p, ok := m.parts[partition]
	if !ok {
		return 0, ErrUnknownPartition
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.evictLocked(m.now()), nil
}

// SizeBytes implements Store.
func (m *Memory) SizeBytes(partition string) int64 {
	p, ok := m.parts[partition]
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Entries returns the partition's entry metadata sorted by ascending
// cached-at time. Intended for inspection and tests.
func (m *Memory) Entries(partition string) []Entry {
	p, ok := m.parts[partition]
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry, 0, len(p.entries))
	for key, e := range p.entries {
		out = append(out, Entry{
			Key:       key,
			SizeBytes: int64(len(e.payload)),
			CachedAt:  e.cachedAt,
		})
	}
	sortEntries(out)
	return out
}

// evictLocked drops expired entries, then the oldest entries until the
// partition is back under its size budget. Caller holds p.mu.
func (p *memPartition) evictLocked(now time.Time) int64 {
	ordered := make([]Entry, 0, len(p.entries))
	for key, e := range p.entries {
		ordered = append(ordered, Entry{
			Key:       key,
			SizeBytes: int64(len(e.payload)),
			CachedAt:  e.cachedAt,
		})
	}
	sortEntries(ordered)

	var freed int64
	for _, e := range ordered {
		over := p.budget.MaxBytes > 0 && p.size > p.budget.MaxBytes
		if !over && !expired(e.CachedAt, p.budget.MaxAge, now) {
			continue
		}
		delete(p.entries, e.Key)
		p.size -= e.SizeBytes
		freed += e.SizeBytes
	}
	return freed
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.CachedAt.Compare(b.CachedAt); c != 0 {
			return c
		}
		// Stable order for entries cached in the same instant.
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
}

func expired(cachedAt time.Time, maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(cachedAt) > maxAge
}
