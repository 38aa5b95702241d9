package executor

import (
	"sync"
	"time"
)

// Dedup suppresses repeated trade signals within a time-to-live window.
// Strategies fire on every matching tick, so the same logical entry tends to
// arrive several times in quick succession; keying on the signal's dedup key
// collapses those into one execution. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // dedup key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate when it was seen
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window. A key that
// has not been seen, or whose entry has expired, is recorded and reported as
// fresh.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup drops entries older than the TTL. Called periodically from the
// executor loop to bound memory on long runs.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
