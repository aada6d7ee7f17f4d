package crm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_UpdateFromResponse(t *testing.T) {
	r := NewRateLimiter(0)
	assert.Equal(t, -1, r.Remaining())

	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	resp.Header.Set(HeaderThrottleAvailable, "42")
	assert.Zero(t, r.UpdateFromResponse(resp))
	assert.Equal(t, 42, r.Remaining())

	limited := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	limited.Header.Set(HeaderRetryAfter, "2")
	assert.Equal(t, 2*time.Second, r.UpdateFromResponse(limited))
	assert.Equal(t, 0, r.Remaining())

	assert.Zero(t, r.UpdateFromResponse(nil))
}

func TestRateLimiter_WaitHonoursCancellation(t *testing.T) {
	r := NewRateLimiter(0)
	limited := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	limited.Header.Set(HeaderRetryAfter, "60")
	r.UpdateFromResponse(limited)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}
