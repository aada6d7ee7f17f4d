package crm

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// HeaderThrottleAvailable reports requests left in the current throttle window.
	HeaderThrottleAvailable = "X-Keap-Product-Throttle-Available"

	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"
)

// RateLimiter combines proactive token bucket throttling with the
// server's throttle headers.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int       // From API header, -1 when unknown
	resumeAt  time.Time // From Retry-After
	bucket    *rate.Limiter
}

// NewRateLimiter creates a rate limiter allowing rps requests per second.
// A non-positive rps disables proactive throttling.
func NewRateLimiter(rps float64) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimiter{
		remaining: -1,
		bucket:    rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until it's safe to make a request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	resumeAt := r.resumeAt
	exhausted := r.remaining == 0
	r.mu.Unlock()

	if exhausted && time.Now().Before(resumeAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resumeAt)):
		}
	}
	return nil
}

// UpdateFromResponse updates limiter state from response headers and
// returns the server-requested delay, if any.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if available := resp.Header.Get(HeaderThrottleAvailable); available != "" {
		if val, err := strconv.Atoi(available); err == nil {
			r.remaining = val
		}
	}

	delay := parseRetryAfter(resp.Header.Get(HeaderRetryAfter), time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		r.remaining = 0
		r.resumeAt = time.Now().Add(delay)
	}
	return delay
}

// Remaining returns the last reported throttle allowance, -1 if unknown.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
