package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
)

func recentKey(p domain.Partition, pages int) string {
	return string(p) + "_" + strconv.Itoa(pages)
}

// StoreRecent 写入分区目录缓存（长 TTL，由同步器周期刷新）。
func (e *Engine) StoreRecent(p domain.Partition, pages int, items []domain.CatalogItem) error {
	return e.recent.Set(recentKey(p, pages), items, cache.CatalogTTL)
}

// CachedRecent 只读目录缓存，不触发网络请求。
func (e *Engine) CachedRecent(p domain.Partition, pages int) ([]domain.CatalogItem, bool) {
	var items []domain.CatalogItem
	ok, err := e.recent.Get(recentKey(p, pages), &items)
	if err != nil {
		e.log.WithError(err).Warn("目录缓存损坏，已丢弃")
	}
	return items, ok
}

// Catalog 返回分区的最近目录：优先缓存；未命中时交给 CatalogLoader 构建。
func (e *Engine) Catalog(ctx context.Context, p domain.Partition, pages int) ([]domain.CatalogItem, error) {
	if _, ok := domain.ParsePartition(string(p)); !ok {
		return nil, fmt.Errorf("%w：未知分区 %q", ErrInvalidInput, p)
	}
	if pages <= 0 {
		pages = e.pages
	}
	if items, ok := e.CachedRecent(p, pages); ok {
		e.log.WithFields(logrus.Fields{"partition": p, "pages": pages}).Debug("目录缓存命中")
		return items, nil
	}
	if e.loader == nil {
		return []domain.CatalogItem{}, nil
	}
	return e.loader.Load(ctx, p, pages)
}

// Search 在分区内按关键字搜索，结果同样经过外部 ID 校验。
// 上游失败返回空列表；只有请求本身取消或超时才返回错误。
func (e *Engine) Search(ctx context.Context, p domain.Partition, query string) ([]domain.CatalogItem, error) {
	if _, ok := domain.ParsePartition(string(p)); !ok {
		return nil, fmt.Errorf("%w：未知分区 %q", ErrInvalidInput, p)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w：搜索词不能为空", ErrInvalidInput)
	}
	page, err := e.ListingPage(ctx, e.site.SearchURL(p, query), p)
	if err != nil {
		e.log.WithFields(logrus.Fields{"partition": p, "query": query}).WithError(err).Warn("搜索页抓取失败")
		return []domain.CatalogItem{}, e.upstreamErr(ctx)
	}
	if len(page.Items) > 0 {
		e.log.WithFields(logrus.Fields{"partition": p, "query": query, "results": len(page.Items)}).Info("搜索完成")
	}
	return page.Items, nil
}

// ResolveNativeID 把外部 ID 映射为分区内的原生 ID；找不到返回 ok=false（不是错误）。
//
// 顺序：
// 1) 分区目录缓存中按 id 查找（不发请求）
// 2) 外部 ID -> 标题，再在分区内搜索该标题
// 3) hint 非空时要求结果 id 与 hint 完全相等；否则按规范化标题相等匹配
// 结果按“规范化标题 + 分区”缓存，带 hint 的结果另加 hint 后缀；并发调用共享同一次搜索。
func (e *Engine) ResolveNativeID(ctx context.Context, id domain.CanonicalID, p domain.Partition, hint domain.CanonicalID) (string, bool) {
	log := e.log.WithFields(logrus.Fields{"imdb_id": id, "partition": p})
	if id == "" || p == "" {
		return "", false
	}

	if items, ok := e.CachedRecent(p, e.pages); ok {
		for _, it := range items {
			if it.ID == string(id) {
				return it.NativeID, true
			}
		}
	}

	title, err := e.resolver.Title(ctx, string(id))
	if err != nil {
		log.WithError(err).Debug("外部 ID 无法解析为标题")
		return "", false
	}
	norm := extract.NormalizeTitle(title)
	key := norm + "_" + string(p)
	if hint != "" {
		// 按标题匹配得到的映射不能满足要求 id 精确相等的调用（同名重拍片）。
		key += "_" + string(hint)
	}

	var cached string
	if ok, _ := e.natives.Get(key, &cached); ok && cached != "" {
		return cached, true
	}

	v, _, err := e.inflight.Do(ctx, string(cache.NSNative)+key, func(ctx context.Context) (any, error) {
		results, err := e.Search(ctx, p, title)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "", nil
		}
		for _, it := range results {
			if hint != "" {
				if it.ID == string(hint) {
					return it.NativeID, nil
				}
				continue
			}
			if extract.NormalizeTitle(it.Title) == norm {
				return it.NativeID, nil
			}
		}
		return "", nil
	})
	if err != nil {
		log.WithError(err).Warn("分区搜索失败")
		return "", false
	}
	native, _ := v.(string)
	if native == "" {
		log.WithField("title", title).Debug("分区内未找到对应影片")
		return "", false
	}
	if err := e.natives.Set(key, native, 0); err != nil {
		log.WithError(err).Warn("写入缓存失败")
	}
	return native, true
}

// resolveID 把对外 ID（外部 ID 或原生前缀形态）解析为原生 ID。
func (e *Engine) resolveID(ctx context.Context, id string, p domain.Partition, hinted bool) (string, bool, error) {
	if native, ok := domain.ParseNativeRef(id); ok {
		return native, true, nil
	}
	cid, ok := domain.ParseCanonicalID(id)
	if !ok {
		return "", false, fmt.Errorf("%w：无法识别的 id %q", ErrInvalidInput, id)
	}
	if _, ok := domain.ParsePartition(string(p)); !ok {
		return "", false, fmt.Errorf("%w：未知分区 %q", ErrInvalidInput, p)
	}
	var hint domain.CanonicalID
	if hinted {
		hint = cid
	}
	native, ok := e.ResolveNativeID(ctx, cid, p, hint)
	return native, ok, nil
}
