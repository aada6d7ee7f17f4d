package services

import (
	"context"
	"errors"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy bounds how often and how long a failed page is retried.
// Only errors for which domain.IsRetryable reports true are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per page, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns five attempts with exponential backoff from 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// ShouldRetry reports whether attempt (1-based) may be followed by another
// after failing with err.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttempts && domain.IsRetryable(err)
}

// Delay returns the wait after the given failed attempt (1-based). A
// server-requested Retry-After longer than the backoff takes precedence,
// still capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}

	var apiErr *domain.RemoteAPIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
	}
	return min(d, p.MaxDelay)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
