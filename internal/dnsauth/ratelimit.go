package dnsauth

import (
	"net"
	"sync"
	"time"

	"github.com/odac-run/odac/internal/clock"
)

// rateLimiter is a per-source-IP fixed-window counter. The window resets
// lazily on the first request observed after it expires rather than on a
// background ticker.
type rateLimiter struct {
	mu      sync.Mutex
	clk     clock.Clock
	max     int
	window  time.Duration
	enabled bool
	buckets map[string]*bucket
}

type bucket struct {
	count      int
	windowEnds time.Time
}

func newRateLimiter(clk clock.Clock, enabled bool, max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clk:     clk,
		max:     max,
		window:  window,
		enabled: enabled,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a request from ip should be answered. Loopback
// addresses are always exempt.
func (r *rateLimiter) Allow(ip net.IP) bool {
	if !r.enabled || ip.IsLoopback() {
		return true
	}

	key := ip.String()
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok || now.After(b.windowEnds) {
		b = &bucket{count: 0, windowEnds: now.Add(r.window)}
		r.buckets[key] = b
	}
	b.count++
	return b.count <= r.max
}
