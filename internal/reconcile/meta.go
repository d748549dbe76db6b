package reconcile

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
)

// Meta 返回影片详情；id 可以是外部 ID 或原生前缀形态。
// 无法映射或上游失败时返回 (nil, nil)；非法 id 返回 ErrInvalidInput。
func (e *Engine) Meta(ctx context.Context, id string, p domain.Partition) (*domain.Meta, error) {
	id = strings.TrimSpace(id)
	native, ok, err := e.resolveID(ctx, id, p, false)
	if err != nil || !ok {
		return nil, err
	}
	log := e.log.WithFields(logrus.Fields{"id": id, "native_id": native, "partition": p})

	var m domain.Meta
	if ok, _ := e.metas.Get(native, &m); ok {
		m.ID = stampID(id, native)
		return &m, nil
	}

	pageURL := e.site.WatchURL(native)
	body, err := e.fetch.Fetch(ctx, pageURL)
	if err != nil {
		log.WithError(err).Warn("详情页抓取失败")
		return nil, e.upstreamErr(ctx)
	}
	d, err := extract.ParseDetail(body, pageURL)
	if err != nil {
		log.WithError(err).Warn("详情页解析失败")
		return nil, e.upstreamErr(ctx)
	}

	it := domain.CatalogItem{
		ID:          stampID(id, native),
		NativeID:    d.NativeID,
		Type:        domain.TypeMovie,
		Title:       d.Title,
		ReleaseYear: d.Year,
		Poster:      d.Poster,
		Background:  d.Poster,
		Description: d.Synopsis,
		TrailerRef:  d.TrailerRef,
		Cast:        d.Cast,
	}
	if it.NativeID == "" {
		it.NativeID = native
	}
	m = domain.NewMeta(it)
	if err := e.metas.Set(native, m, 0); err != nil {
		log.WithError(err).Warn("写入缓存失败")
	}
	return &m, nil
}

// stampID 让缓存的详情始终带上调用方请求的 id。
func stampID(requested, native string) string {
	if _, ok := domain.ParseCanonicalID(requested); ok {
		return strings.TrimSpace(requested)
	}
	return domain.NativeRef(native)
}
