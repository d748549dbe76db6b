// Package reconcile 是 ID 对账的决策核心：
// 在站点原生 ID 与外部 ID 之间双向映射，并组装目录、搜索、详情与取流结果。
package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/logx"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const (
	DefaultRecentPages = 15
	DefaultBatchSize   = 10
)

var ErrInvalidInput = errors.New("reconcile: 非法输入")

// Resolver 是外部 ID 解析器（resolve.Resolver 实现该接口）。
type Resolver interface {
	CanonicalID(ctx context.Context, title, year string) (domain.CanonicalID, bool, error)
	Title(ctx context.Context, id string) (string, error)
}

// CatalogLoader 在目录缓存未命中时按需构建分区目录（catalogsync.Synchronizer 实现该接口）。
type CatalogLoader interface {
	Load(ctx context.Context, p domain.Partition, pages int) ([]domain.CatalogItem, error)
}

type Deps struct {
	Fetcher  provider.Fetcher
	Resolver Resolver
	Cache    *cache.Store
	InFlight *cache.Group
	Logger   logrus.FieldLogger

	BaseURL string
	// RecentPages 是目录缓存 key 中的页数（也是快速路径查找的目录）。
	RecentPages int
	// BatchSize 是单页内并发校验的条目数上限。
	BatchSize int
}

type Engine struct {
	fetch    provider.Fetcher
	resolver Resolver
	site     Site
	inflight *cache.Group
	log      logrus.FieldLogger

	recent  cache.Scoped
	natives cache.Scoped
	metas   cache.Scoped
	streams cache.Scoped

	pages  int
	batch  int
	loader CatalogLoader
}

func New(d Deps) (*Engine, error) {
	if d.Fetcher == nil {
		return nil, errors.New("fetcher 不能为空")
	}
	if d.Resolver == nil {
		return nil, errors.New("resolver 不能为空")
	}
	if d.Cache == nil {
		return nil, errors.New("cache 不能为空")
	}
	e := &Engine{
		fetch:    d.Fetcher,
		resolver: d.Resolver,
		site:     Site{BaseURL: d.BaseURL},
		inflight: d.InFlight,
		log:      d.Logger,
		recent:   d.Cache.Scope(cache.NSRecent),
		natives:  d.Cache.Scope(cache.NSNative),
		metas:    d.Cache.Scope(cache.NSMeta),
		streams:  d.Cache.Scope(cache.NSStream),
		pages:    d.RecentPages,
		batch:    d.BatchSize,
	}
	if e.inflight == nil {
		e.inflight = &cache.Group{}
	}
	if e.log == nil {
		e.log = logx.Discard()
	}
	if e.pages <= 0 {
		e.pages = DefaultRecentPages
	}
	if e.batch <= 0 {
		e.batch = DefaultBatchSize
	}
	return e, nil
}

// SetLoader 注入目录构建器；构建器通常依赖 Engine 本身，因此在构造之后设置。
func (e *Engine) SetLoader(l CatalogLoader) { e.loader = l }

func (e *Engine) Site() Site { return e.site }

func (e *Engine) RecentPages() int { return e.pages }

// VerifyCandidate 是构建目录时的误配保护：
// 先按标题+年份查外部 ID，再取该 ID 的标准标题，首词一致才接受。
//
// 规则：首词（忽略大小写）完全相等；或两者都不是数字且一方是另一方的前缀。
// 任何失败都返回 ok=false（宁可回退原生 ID，也不猜测）。
func (e *Engine) VerifyCandidate(ctx context.Context, title, year string) (domain.CanonicalID, bool) {
	log := e.log.WithFields(logrus.Fields{"title": title, "year": year})

	id, ok, err := e.resolver.CanonicalID(ctx, title, year)
	if err != nil {
		log.WithError(err).Debug("跳过外部 ID 校验")
		return "", false
	}
	if !ok {
		return "", false
	}
	fetched, err := e.resolver.Title(ctx, string(id))
	if err != nil {
		log.WithField("imdb_id", id).WithError(err).Debug("取外部标题失败")
		return "", false
	}

	switch firstWordMatch(title, fetched) {
	case matchExact:
		return id, true
	case matchRelaxed:
		log.WithFields(logrus.Fields{"imdb_id": id, "fetched": fetched}).Info("首词前缀匹配，按宽松规则接受")
		return id, true
	default:
		log.WithFields(logrus.Fields{"imdb_id": id, "fetched": fetched}).Debug("标题不一致，拒绝外部 ID")
		return "", false
	}
}

type match int

const (
	matchNone match = iota
	matchExact
	matchRelaxed
)

func firstWordMatch(input, fetched string) match {
	a := extract.FirstWord(input)
	b := extract.FirstWord(fetched)
	if a == "" || b == "" {
		return matchNone
	}
	if a == b {
		return matchExact
	}
	if isNumeric(a) || isNumeric(b) {
		return matchNone
	}
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		return matchRelaxed
	}
	return matchNone
}

// isNumeric 只认十进制数字（可带一个小数点）；"nan"、"inf" 之类不算数字。
func isNumeric(s string) bool {
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

// upstreamErr 决定上游失败时返回给调用方的错误：
// 请求 ctx 已取消或超时时返回 ctx 的错误；其它情况降级为空结果（nil）。
func (e *Engine) upstreamErr(ctx context.Context) error {
	return ctx.Err()
}
