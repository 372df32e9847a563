package disk

import (
	"sort"
	"sync"
)

// partitionLocks hands out one mutex per partition name.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the named partition's mutex and returns its unlock func.
func (p *partitionLocks) lock(partition string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[partition]
	if !ok {
		l = &sync.Mutex{}
		p.locks[partition] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func sortByModTime(entries []diskEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].path < entries[j].path
		}
		return entries[i].modTime.Before(entries[j].modTime)
	})
}
