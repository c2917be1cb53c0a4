package events

import "sync"

// InterestMap records which users asked to follow the presence of a user they
// do not share a chat with yet. It lives only in process memory.
//
// Entries are never removed; the map grows for the lifetime of the process.
type InterestMap struct {
	mu       sync.RWMutex
	watchers map[int64][]int64
}

// NewInterestMap returns an empty InterestMap.
func NewInterestMap() *InterestMap {
	return &InterestMap{watchers: make(map[int64][]int64)}
}

// Add registers watcher as interested in target. Adding the same pair twice
// is a no-op.
func (m *InterestMap) Add(target, watcher int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.watchers[target] {
		if id == watcher {
			return
		}
	}
	m.watchers[target] = append(m.watchers[target], watcher)
}

// Watchers returns a copy of the users interested in target.
func (m *InterestMap) Watchers(target int64) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.watchers[target]
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// Len returns the number of targets with at least one watcher.
func (m *InterestMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}
