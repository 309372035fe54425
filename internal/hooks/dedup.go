package hooks

import (
	"sync"
	"time"
)

// dedupWindow is how long a (event, key) pair is remembered before a
// repeat is treated as a new, distinct occurrence rather than a resend
// of the same logical delivery.
const dedupWindow = 5 * time.Second

// dedupCache suppresses the second of two identical hook deliveries that
// arrive within dedupWindow — some agent integrations fire the same hook
// twice for one real event ("dual-hook dedup").
type dedupCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[string]time.Time)}
}

// Seen records (event, key) at now and reports whether an identical pair
// was already recorded within dedupWindow. A true result means the
// caller should silently drop this delivery. An empty key never dedups,
// since some events carry no natural identity.
func (d *dedupCache) Seen(event, key string, now time.Time) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	full := event + "\x00" + key
	if last, ok := d.seen[full]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	d.seen[full] = now
	d.sweepLocked(now)
	return false
}

// sweepLocked drops stale entries once the map grows large, so a
// long-running daemon's dedup cache doesn't grow unbounded. Caller holds
// d.mu.
func (d *dedupCache) sweepLocked(now time.Time) {
	if len(d.seen) < 4096 {
		return
	}
	for k, t := range d.seen {
		if now.Sub(t) > 10*dedupWindow {
			delete(d.seen, k)
		}
	}
}
