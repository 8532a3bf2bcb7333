package retry

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding window of at most maxRequests requests per
// window. Wait blocks until the oldest entry ages out. A 502 response
// penalizes the limiter by filling the window, so all callers back off
// together.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	entries     []time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
// Defaults: 10 requests per 60 seconds.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Wait blocks until a slot is free, then claims it.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.entries) < l.maxRequests {
			l.entries = append(l.entries, now)
			l.mu.Unlock()
			return nil
		}

		sleep := l.entries[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if sleep <= 0 {
			continue
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Penalize fills the window, forcing every caller to wait a full window
// before the next request. Invoked on rate-limit responses.
func (l *RateLimiter) Penalize() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.entries = l.entries[:0]
	for i := 0; i < l.maxRequests; i++ {
		l.entries = append(l.entries, now)
	}
}

// Available returns the number of free slots right now.
func (l *RateLimiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return l.maxRequests - len(l.entries)
}

func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.entries) && !l.entries[i].After(cutoff) {
		i++
	}
	l.entries = l.entries[i:]
}
