package memscan

import "sync"

// Collector suppresses duplicate (filename, password) pairs. The
// scanner itself may legitimately rediscover the same string from several
// Δ offsets (spec.md §4.4); deduplication is the presentation layer's
// responsibility, and Collector is the reusable implementation of it,
// mirroring the teacher's own dedup-by-map approach in its index and
// archive-creation logic.
type Collector struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]struct{})}
}

// Observe reports whether (filename, password) has not been seen before,
// recording it if so.
func (c *Collector) Observe(filename string, password []byte) bool {
	key := filename + "\x00" + string(password)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}
