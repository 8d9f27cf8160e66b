package dedupe

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

// MemorySet is an insertion-ordered RecentSet for a single instance
type MemorySet struct {
	mu       sync.Mutex
	capacity int
	items    *linkedhashset.Set
}

// NewMemorySet creates a set holding at most capacity keys. A capacity below
// one is treated as one.
func NewMemorySet(capacity int) *MemorySet {
	if capacity < 1 {
		capacity = 1
	}
	return &MemorySet{
		capacity: capacity,
		items:    linkedhashset.New(),
	}
}

func (m *MemorySet) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items.Contains(key) {
		return true, nil
	}

	m.items.Add(key)
	for m.items.Size() > m.capacity {
		it := m.items.Iterator()
		if !it.First() {
			break
		}
		m.items.Remove(it.Value())
	}

	return false, nil
}

func (m *MemorySet) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Size(), nil
}

// Keys returns the keys oldest first
func (m *MemorySet) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, m.items.Size())
	for _, v := range m.items.Values() {
		keys = append(keys, v.(string))
	}
	return keys
}
