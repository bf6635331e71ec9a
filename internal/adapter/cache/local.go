package cache

import (
	"sync"
	"time"
)

// Local is a bounded process-local TTL map. Eviction is FIFO by insertion
// order, which is enough for the small per-key-class caches in front of
// Redis. Safe for concurrent use.
type Local struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	m        map[string]localEntry
	ord      []string
	now      func() time.Time
}

type localEntry struct {
	value     any
	expiresAt time.Time
}

// NewLocal builds a local tier with the given capacity and TTL.
func NewLocal(capacity int, ttl time.Duration) *Local {
	return &Local{
		capacity: capacity,
		ttl:      ttl,
		m:        make(map[string]localEntry, capacity),
		now:      time.Now,
	}
}

// Get returns the cached value when present and unexpired.
func (l *Local) Get(key string) (any, bool) {
	l.mu.RLock()
	e, ok := l.m[key]
	l.mu.RUnlock()
	if !ok || l.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores a value, evicting the oldest entry when at capacity.
func (l *Local) Set(key string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.m[key]; !exists {
		if len(l.ord) >= l.capacity && len(l.ord) > 0 {
			oldest := l.ord[0]
			l.ord = l.ord[1:]
			delete(l.m, oldest)
		}
		l.ord = append(l.ord, key)
	}
	l.m[key] = localEntry{value: v, expiresAt: l.now().Add(l.ttl)}
}

// Delete drops a key; used when a write invalidates the local tier.
func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key)
	for i, k := range l.ord {
		if k == key {
			l.ord = append(l.ord[:i], l.ord[i+1:]...)
			break
		}
	}
}

// Len reports the current entry count.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}
