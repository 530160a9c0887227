// Package dedup drops repeated notification ids seen within a time window.
package dedup

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultTTL     = 30 * time.Second
	DefaultMaxSize = 1024
)

// Window is a bounded set of ids ordered by first sighting. Entries older than
// the TTL are evicted on every insert, and the oldest entries go first once
// the size bound is reached.
type Window struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen *simplelru.LRU[string, time.Time]
	now  func() time.Time
}

func NewWindow(ttl time.Duration, maxSize int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	// only fails for a non-positive size
	seen, _ := simplelru.NewLRU[string, time.Time](maxSize, nil)

	return &Window{
		ttl:  ttl,
		seen: seen,
		now:  time.Now,
	}
}

// Add records id and reports whether it was new. A repeated id inside the
// window returns false and does not extend its lifetime.
func (w *Window) Add(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evictExpired(now)

	// Peek leaves recency alone, so the oldest entry is always the earliest seen.
	if _, ok := w.seen.Peek(id); ok {
		return false
	}

	w.seen.Add(id, now)
	return true
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen.Len()
}

func (w *Window) evictExpired(now time.Time) {
	for {
		_, seen, ok := w.seen.GetOldest()
		if !ok || now.Sub(seen) < w.ttl {
			return
		}
		w.seen.RemoveOldest()
	}
}
