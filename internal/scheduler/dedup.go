package scheduler

import (
	"sync"
	"time"
)

// dedupWindow remembers recently seen event idempotency keys for a TTL, so a
// redelivered event activates at most one run inside the window. Keys expire
// by garbage collection, not on read.
type dedupWindow struct {
	mu   sync.Mutex
	seen map[string]time.Time // key → first-seen time
	ttl  time.Duration
	stop chan struct{}
}

func newDedupWindow(ttl time.Duration) *dedupWindow {
	w := &dedupWindow{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go w.gc()
	return w
}

// Stop terminates the GC goroutine.
func (w *dedupWindow) Stop() {
	close(w.stop)
}

// observe records the key and reports whether it was already seen within the
// window. The first caller for a key gets false; redeliveries get true.
func (w *dedupWindow) observe(key string) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if first, ok := w.seen[key]; ok && now.Sub(first) <= w.ttl {
		return true
	}
	w.seen[key] = now
	return false
}

// gc periodically removes keys older than the TTL.
func (w *dedupWindow) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.collectExpired()
		}
	}
}

func (w *dedupWindow) collectExpired() {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, first := range w.seen {
		if now.Sub(first) > w.ttl {
			delete(w.seen, key)
		}
	}
}
