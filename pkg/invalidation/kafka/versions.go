package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// keyVersions remembers the newest version applied per key. Keys fall out in
// LRU order; after that any version of the key is accepted again.
type keyVersions struct {
	mu   sync.Mutex
	seen *lru.Cache[string, uint64]
}

func newKeyVersions(size int) *keyVersions {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &keyVersions{seen: c}
}

// admit records v for key and reports whether it is newer than the last
// version applied. Replays and out-of-order deliveries are rejected.
func (k *keyVersions) admit(key string, v uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if last, ok := k.seen.Peek(key); ok && v <= last {
		// refresh recency so a hot key's history is not evicted by replays
		k.seen.Get(key)
		return false
	}
	k.seen.Add(key, v)
	return true
}
