package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// failureLimiter counts failed logins per client IP in a sliding window.
type failureLimiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

func newFailureLimiter(max int, window time.Duration) *failureLimiter {
	return &failureLimiter{
		max:      max,
		window:   window,
		failures: make(map[string][]time.Time),
	}
}

// blocked reports whether ip is over the limit and how long until the
// oldest failure leaves the window.
func (l *failureLimiter) blocked(ip net.IP, now time.Time) (bool, time.Duration) {
	if l == nil || ip == nil || l.max <= 0 {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ip.String()
	kept := l.prune(key, now)
	if len(kept) < l.max {
		return false, 0
	}
	return true, kept[0].Add(l.window).Sub(now)
}

func (l *failureLimiter) record(ip net.IP, now time.Time) {
	if l == nil || ip == nil || l.max <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ip.String()
	l.failures[key] = append(l.prune(key, now), now)
}

// prune drops expired entries for key. Caller holds mu.
func (l *failureLimiter) prune(key string, now time.Time) []time.Time {
	cut := now.Add(-l.window)
	ts := l.failures[key]
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	ts = ts[i:]
	if len(ts) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = ts
	return ts
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
	}
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
