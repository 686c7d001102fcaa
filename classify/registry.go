package classify

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the registry when no capacity is configured.
const DefaultCapacity = 1000

// Entry is the registry status of one logical node.
type Entry struct {
	Key      string    `json:"key"`
	Role     Role      `json:"role"`
	MarkedAt time.Time `json:"marked_at"`
}

// Registry maps stable keys to their processed status. It is an LRU:
// rescans touch the keys of nodes still in the tree, so the entries that
// fall off are those of nodes the host removed long ago. Evicted keys are
// reported to OnEvict listeners, which drop their per-node records.
type Registry struct {
	cache *lru.Cache[string, Entry]
	now   func() time.Time

	mu      sync.RWMutex
	onEvict []func(key string)
}

// NewRegistry creates a registry holding at most capacity keys.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{now: time.Now}
	cache, err := lru.NewWithEvict(capacity, func(key string, _ Entry) {
		r.mu.RLock()
		fns := r.onEvict
		r.mu.RUnlock()
		for _, fn := range fns {
			fn(key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("classify: registry: %w", err)
	}
	r.cache = cache
	return r, nil
}

// OnEvict registers fn to be called with every key leaving the registry.
func (r *Registry) OnEvict(fn func(key string)) {
	r.mu.Lock()
	r.onEvict = append(r.onEvict, fn)
	r.mu.Unlock()
}

// Mark records key as processed. It reports false when key was already
// present, in which case the caller must not dispatch it again.
func (r *Registry) Mark(key string, role Role) bool {
	contained, _ := r.cache.ContainsOrAdd(key, Entry{Key: key, Role: role, MarkedAt: r.now()})
	return !contained
}

// Touch refreshes the recency of key.
func (r *Registry) Touch(key string) bool {
	_, ok := r.cache.Get(key)
	return ok
}

// Processed reports whether key is marked, without touching it.
func (r *Registry) Processed(key string) bool {
	return r.cache.Contains(key)
}

// Forget removes key. Listeners are notified as for an eviction.
func (r *Registry) Forget(key string) {
	r.cache.Remove(key)
}

// Len is the number of marked keys.
func (r *Registry) Len() int { return r.cache.Len() }

// Entries lists marked keys from oldest to most recently used.
func (r *Registry) Entries() []Entry {
	keys := r.cache.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := r.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}
