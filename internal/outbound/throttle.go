package outbound

import (
	"sync"
	"time"
)

// Throttle tracks the next permitted outbound-dispatch batch time. Batches
// are released system-wide no more often than once per interval, regardless
// of how many articles change in a burst.
type Throttle struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// NewThrottle creates a Throttle whose first batch is permitted immediately.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether a batch may be released at now, and advances the
// window when it may.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.interval)
	return true
}

// Next returns the next permitted batch time.
func (t *Throttle) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}
