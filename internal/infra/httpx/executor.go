package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 50
	DefaultCallTimeout = 20 * time.Second

	maxBodyBytes = 16 << 20
)

type ExecutorOptions struct {
	// Concurrency 是同时在途的调用上限；<=0 使用默认值。
	Concurrency int
	// Timeout 是单次调用的超时；<=0 使用默认值。
	Timeout time.Duration
	// Retry 是 Fetch 使用的重试策略。
	Retry RetryPolicy
}

// Executor 是全进程共享的有界请求执行器。
//
// 约束：
// - 同时在途的调用数不超过 Concurrency，等待者按 FIFO 获得槽位
// - 单次调用超时后调用方立即得到错误，不会因为 fn 忽略 ctx 而挂住
// - 槽位只在 fn 真正返回后释放（在途数不会被超时“虚减”）
type Executor struct {
	client  *http.Client
	sem     *semaphore.Weighted
	timeout time.Duration
	retry   RetryPolicy

	inFlight atomic.Int64
	queued   atomic.Int64
}

func NewExecutor(client *http.Client, opts ExecutorOptions) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	n := opts.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Executor{
		client:  client,
		sem:     semaphore.NewWeighted(int64(n)),
		timeout: timeout,
		retry:   opts.Retry,
	}
}

func (e *Executor) Client() *http.Client { return e.client }

func (e *Executor) InFlight() int64 { return e.inFlight.Load() }

func (e *Executor) Queued() int64 { return e.queued.Load() }

// Do 获取槽位后执行 fn；fn 收到带超时的 ctx。
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	e.queued.Add(1)
	err := e.sem.Acquire(ctx, 1)
	e.queued.Add(-1)
	if err != nil {
		return err
	}
	e.inFlight.Add(1)

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			e.inFlight.Add(-1)
			e.sem.Release(1)
		}()
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

// Get 通过执行器发起一次 GET（不重试）；非 2xx 返回 *HTTPStatusError。
func (e *Executor) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := e.Do(ctx, func(ctx context.Context) error {
		b, err := e.get(ctx, url)
		body = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Fetch 是带执行器默认重试策略的 Get；每次尝试单独占用槽位，等待期间不占槽。
func (e *Executor) Fetch(ctx context.Context, url string) ([]byte, error) {
	return e.FetchWith(ctx, url, e.retry)
}

func (e *Executor) FetchWith(ctx context.Context, url string, p RetryPolicy) ([]byte, error) {
	var body []byte
	err := Retry(ctx, p, func(ctx context.Context) error {
		b, err := e.Get(ctx, url)
		body = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (e *Executor) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitedError{URL: url, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
