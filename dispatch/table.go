package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/dolthub/swiss"
)

// table is a copy-on-write hash map. Readers load an immutable snapshot with
// a single atomic load and are never blocked or starved by writers; writers
// serialize on a mutex, rebuild, and swap. Mutation happens only at object
// creation and destruction, so the rebuild cost is irrelevant next to the
// native calls around it.
type table[K comparable, V any] struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[swiss.Map[K, V]]
}

func (t *table[K, V]) get(key K) (V, bool) {
	snapshot := t.snapshot.Load()
	if snapshot == nil {
		var zero V
		return zero, false
	}
	return snapshot.Get(key)
}

func (t *table[K, V]) len() int {
	snapshot := t.snapshot.Load()
	if snapshot == nil {
		return 0
	}
	return snapshot.Count()
}

func (t *table[K, V]) put(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.cloneLocked(1)
	next.Put(key, value)
	t.snapshot.Store(next)
}

func (t *table[K, V]) delete(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.cloneLocked(0)
	next.Delete(key)
	t.snapshot.Store(next)
}

func (t *table[K, V]) cloneLocked(extra int) *swiss.Map[K, V] {
	old := t.snapshot.Load()
	size := extra
	if old != nil {
		size += old.Count()
	}
	next := swiss.NewMap[K, V](uint32(size + 8))
	if old != nil {
		old.Iter(func(key K, value V) bool {
			next.Put(key, value)
			return false
		})
	}
	return next
}
