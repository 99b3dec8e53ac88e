package syncthing

import "sync"

// synchronized guards a single scalar value.
type synchronized[T any] struct {
	mu sync.RWMutex
	v  T
}

func (s *synchronized[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *synchronized[T]) Set(v T) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

// recordMap is a copy-on-write map keyed by id. Replace publishes a new
// backing map; a reader that took Snapshot before the swap keeps seeing the
// old set. The backing map is never handed out.
type recordMap[V any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]V
}

func (m *recordMap[V]) Get(id string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	return v, ok
}

// Replace swaps in a new set. order lists ids in the order they should be
// returned by Values; ids missing from items are skipped.
func (m *recordMap[V]) Replace(order []string, items map[string]V) {
	m.mu.Lock()
	m.order = order
	m.items = items
	m.mu.Unlock()
}

// Values returns the records in publication order.
func (m *recordMap[V]) Values() []V {
	m.mu.RLock()
	order, items := m.order, m.items
	m.mu.RUnlock()

	out := make([]V, 0, len(items))
	for _, id := range order {
		if v, ok := items[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (m *recordMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
