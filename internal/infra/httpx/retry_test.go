package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Retries: 3, BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))

	p.Fixed = true
	assert.Equal(t, time.Second, p.Delay(3))
}

func TestRetry_StopsAfterRetries(t *testing.T) {
	calls := 0
	var notified []int
	p := RetryPolicy{
		Retries:   3,
		BaseDelay: time.Millisecond,
		OnRetry:   func(n int, _ error) { notified = append(notified, n) },
	}
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "Retries=3 应最多调用 4 次")
	assert.Equal(t, []int{1, 2, 3}, notified)
}

func TestRetry_NonTransientNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryPolicy(), func(context.Context) error {
		calls++
		return &HTTPStatusError{StatusCode: http.StatusNotFound}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomRetryIf(t *testing.T) {
	sentinel := errors.New("empty")
	calls := 0
	p := RetryPolicy{Retries: 2, BaseDelay: time.Millisecond, Fixed: true, RetryIf: func(err error) bool {
		return errors.Is(err, sentinel)
	}}
	err := Retry(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return sentinel
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Retry(ctx, RetryPolicy{Retries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return context.DeadlineExceeded
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&RateLimitedError{}))
	assert.True(t, IsTransient(&HTTPStatusError{StatusCode: 500}))
	assert.False(t, IsTransient(&HTTPStatusError{StatusCode: 403}))
	assert.False(t, IsTransient(errors.New("boom")))
}
