package grpc

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Sliding Window
// =============================================================================

// slidingWindow counts events over a window split into sub-buckets, so old
// events age out gradually rather than all at once.
type slidingWindow struct {
	window      time.Duration
	bucketCount int
	buckets     map[int64]int
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	return &slidingWindow{
		window:      window,
		bucketCount: 10,
		buckets:     make(map[int64]int),
	}
}

func (w *slidingWindow) bucketSize() time.Duration {
	return w.window / time.Duration(w.bucketCount)
}

func (w *slidingWindow) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(w.bucketSize())
}

// prune drops buckets that left the window.
func (w *slidingWindow) prune(now time.Time) {
	minBucket := w.bucketOf(now) - int64(w.bucketCount)
	for b := range w.buckets {
		if b <= minBucket {
			delete(w.buckets, b)
		}
	}
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	n := 0
	for _, c := range w.buckets {
		n += c
	}
	return n
}

func (w *slidingWindow) record(now time.Time) {
	w.buckets[w.bucketOf(now)]++
}

// retryAfter is how long until count drops below limit.
func (w *slidingWindow) retryAfter(now time.Time, limit int) time.Duration {
	current := w.count(now)
	if current < limit {
		return 0
	}
	keys := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	size := int64(w.bucketSize())
	excess := current - limit + 1
	expired := 0
	for _, b := range keys {
		expired += w.buckets[b]
		if expired >= excess {
			// bucket b is pruned once now reaches its start plus the window.
			leaves := time.Unix(0, b*size).Add(w.window)
			if d := leaves.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return w.window
}

func (w *slidingWindow) empty() bool {
	return len(w.buckets) == 0
}

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter allows at most limit events per key in any sliding window.
// Safe for concurrent use.
type RateLimiter struct {
	limit   int
	window  time.Duration
	windows map[string]*slidingWindow
	now     func() time.Time
	mu      sync.Mutex
}

// NewRateLimiter creates a limiter of limit events per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

// Allow records an event for key when it fits the limit. When it does not,
// nothing is recorded and the wait until the next slot is returned.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok {
		w = newSlidingWindow(r.window)
		r.windows[key] = w
	}
	if w.count(now) >= r.limit {
		return false, w.retryAfter(now, r.limit)
	}
	w.record(now)
	return true, 0
}

// Cleanup forgets keys with no events left in their window and returns how
// many were removed.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, w := range r.windows {
		w.prune(now)
		if w.empty() {
			delete(r.windows, key)
			removed++
		}
	}
	return removed
}
