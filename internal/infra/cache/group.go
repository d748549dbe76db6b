package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group 是在途请求表：同一 key 同一时刻最多一次真实调用，其余调用方共享结果。
// 调用结束（成功或失败）后条目即移除，下次调用会重新执行。
type Group struct {
	g     singleflight.Group
	calls atomic.Int64
}

// Do 执行或加入 key 对应的调用。
//
// fn 收到的 ctx 不随单个调用方取消（避免一个调用方离开导致所有等待者失败）；
// 调用方自己的 ctx 结束时立即返回 ctx.Err()。
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(key, func() (any, error) {
		g.calls.Add(1)
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	}
}

// Calls 返回真实执行 fn 的次数。
func (g *Group) Calls() int64 { return g.calls.Load() }
