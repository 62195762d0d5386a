package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// eventVersions remembers the highest version applied per run or source
// area, so replayed and out-of-order events do not re-delete keys that a
// newer event already covered.
type eventVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newEventVersions(capacity int) *eventVersions {
	if capacity <= 0 {
		capacity = 4096
	}
	c, _ := lru.New[string, uint64](capacity)
	return &eventVersions{seen: c}
}

// advance reports whether v is newer than the last applied version for key
// and records it when it is.
func (e *eventVersions) advance(key string, v uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.seen.Get(key); ok && v <= last {
		return false
	}
	e.seen.Add(key, v)
	return true
}
