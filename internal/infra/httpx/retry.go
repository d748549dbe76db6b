package httpx

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy 是显式的重试策略值。
//
// Retries 不含首次尝试：Retries=3 表示最多 4 次调用。
// 第 n 次重试（n 从 1 开始）前等待 Delay(n)。
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	// Fixed=true：每次等待 BaseDelay；否则线性 n*BaseDelay。
	Fixed bool
	// RetryIf 为空时使用 IsTransient。
	RetryIf func(error) bool
	// OnRetry 在每次等待前回调（n 从 1 开始），用于日志。
	OnRetry func(n int, err error)
}

// DefaultRetryPolicy 对应上游请求的默认策略：3 次重试，线性 1s 递增。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 3, BaseDelay: time.Second}
}

// NoRetry 只调用一次。
func NoRetry() RetryPolicy { return RetryPolicy{} }

func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if p.Fixed {
		return p.BaseDelay
	}
	return time.Duration(n) * p.BaseDelay
}

// Retry 按策略执行 fn；返回最后一次错误（不聚合）。
// ctx 取消时立即停止等待并返回 ctx 的错误。
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(retries+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return p.Delay(int(n) + 1)
		}),
		retry.OnRetry(func(n uint, err error) {
			// 最后一次失败也会触发回调，此时不再有下一次重试。
			if p.OnRetry != nil && int(n) < retries {
				p.OnRetry(int(n)+1, err)
			}
		}),
	)
}
