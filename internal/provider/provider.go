package provider

import (
	"context"
	"errors"

	"github.com/asaddon/EinthusanTV/internal/domain"
)

// Fetcher 是 provider 访问网络的唯一入口（通常是共享的 httpx.Executor）。
// 并发上限、超时与重试都由 Fetcher 统一实现。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TitleProvider 把“外部 ID -> 标题”的站点差异限制在 provider 包内部。
//
// 约束：
// - Fetch 不做缓存、不做重试（由 Fetcher 与 resolve 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - Parse 找不到标题时返回 ErrNoTitle，而不是空字符串
type TitleProvider interface {
	Name() string
	Fetch(ctx context.Context, id domain.CanonicalID, f Fetcher) (body []byte, pageURL string, err error)
	Parse(id domain.CanonicalID, body []byte) (string, error)
}

// NameLookup 是“标题 + 年份 -> 外部 ID”的查询服务。
// year=0 表示不限年份；查无结果返回 ok=false 且 err=nil。
type NameLookup interface {
	Lookup(ctx context.Context, name string, year int) (id domain.CanonicalID, ok bool, err error)
}

var ErrNoTitle = errors.New("provider: 未找到标题")
