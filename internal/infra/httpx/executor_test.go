package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_BoundsConcurrency(t *testing.T) {
	ex := NewExecutor(nil, ExecutorOptions{Concurrency: 3, Timeout: time.Second})

	var cur, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ex.Do(context.Background(), func(ctx context.Context) error {
				n := cur.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Equal(t, int64(0), ex.InFlight())
	assert.Equal(t, int64(0), ex.Queued())
}

func TestExecutor_TimeoutNeverHangs(t *testing.T) {
	ex := NewExecutor(nil, ExecutorOptions{Concurrency: 1, Timeout: 30 * time.Millisecond})

	release := make(chan struct{})
	start := time.Now()
	err := ex.Do(context.Background(), func(ctx context.Context) error {
		<-release // 故意忽略 ctx
		return nil
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second, "超时后调用方应立即返回")
	// fn 尚未返回：槽位仍被占用。
	assert.Equal(t, int64(1), ex.InFlight())

	close(release)
	require.Eventually(t, func() bool { return ex.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	// 槽位释放后可以继续使用。
	require.NoError(t, ex.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestExecutor_QueuedCallerCanBeCancelled(t *testing.T) {
	ex := NewExecutor(nil, ExecutorOptions{Concurrency: 1, Timeout: time.Second})

	hold := make(chan struct{})
	go func() {
		_ = ex.Do(context.Background(), func(context.Context) error {
			<-hold
			return nil
		})
	}()
	require.Eventually(t, func() bool { return ex.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- ex.Do(ctx, func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return ex.Queued() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	close(hold)
}

func TestExecutor_Get_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello"))
		case "/slow":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ex := NewExecutor(srv.Client(), ExecutorOptions{})

	b, err := ex.Get(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = ex.Get(context.Background(), srv.URL+"/missing")
	var se *HTTPStatusError
	require.True(t, errors.As(err, &se), "期望 *HTTPStatusError，实际 %T", err)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.False(t, IsTransient(err))

	_, err = ex.Get(context.Background(), srv.URL+"/slow")
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl), "期望 *RateLimitedError，实际 %T", err)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.True(t, IsTransient(err))
}

func TestExecutor_Fetch_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ex := NewExecutor(srv.Client(), ExecutorOptions{Retry: RetryPolicy{Retries: 3, BaseDelay: time.Millisecond}})
	b, err := ex.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
	assert.Equal(t, int32(3), calls.Load())
}
