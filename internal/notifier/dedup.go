package notifier

import (
	"sync"
	"time"
)

// dedup remembers keys until their window expires.
type dedup struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedup() *dedup { return &dedup{until: map[string]time.Time{}} }

// first reports whether key is new (or its window has passed) and starts a
// new window for it. At most limit keys are kept; the ones expiring soonest go first.
func (d *dedup) first(key string, now time.Time, window time.Duration, limit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.until[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range d.until {
		if !now.Before(until) {
			delete(d.until, k)
		}
	}
	d.until[key] = now.Add(window)
	for len(d.until) > limit {
		oldest, first := "", true
		for k, until := range d.until {
			if first || until.Before(d.until[oldest]) {
				oldest, first = k, false
			}
		}
		delete(d.until, oldest)
	}
	return true
}
