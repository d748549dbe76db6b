package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
)

// Page 是一次列表页抓取 + 校验的结果。
type Page struct {
	Items []domain.CatalogItem
	Stats extract.ListingStats
}

// ListingPage 抓取并解析一个列表页，并为每个条目尝试挂上外部 ID。
//
// 限流页返回 *httpx.RateLimitedError（由调用方决定等待与重试）；
// 单个条目的校验失败不影响其它条目。输出顺序与页面顺序一致。
func (e *Engine) ListingPage(ctx context.Context, pageURL string, p domain.Partition) (Page, error) {
	body, err := e.fetch.Fetch(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}
	if extract.IsRateLimited(body) {
		return Page{}, &httpx.RateLimitedError{URL: pageURL}
	}
	cands, st, err := extract.Listing(body, pageURL)
	if err != nil {
		return Page{}, err
	}
	if st.Dropped > 0 {
		e.log.WithFields(logrus.Fields{"partition": p, "url": pageURL, "dropped": st.Dropped}).Debug("列表页存在不完整条目")
	}
	return Page{Items: e.verifyAll(ctx, cands), Stats: st}, nil
}

func (e *Engine) verifyAll(ctx context.Context, cands []extract.Candidate) []domain.CatalogItem {
	items := make([]domain.CatalogItem, len(cands))
	wp := pool.New().WithMaxGoroutines(e.batch)
	for i, c := range cands {
		i, c := i, c
		wp.Go(func() {
			items[i] = e.toItem(ctx, c)
		})
	}
	wp.Wait()
	return items
}

func (e *Engine) toItem(ctx context.Context, c extract.Candidate) domain.CatalogItem {
	it := domain.CatalogItem{
		ID:          domain.NativeRef(c.NativeID),
		NativeID:    c.NativeID,
		Type:        domain.TypeMovie,
		Title:       c.Title,
		ReleaseYear: c.Year,
		Poster:      c.Poster,
	}
	if id, ok := e.VerifyCandidate(ctx, c.Title, c.Year); ok {
		it.ID = string(id)
	}
	return it
}

// MergeUnique 按原生 ID 合并多页结果，首次出现者胜出。
func MergeUnique(pages ...[]domain.CatalogItem) []domain.CatalogItem {
	seen := make(map[string]struct{})
	out := make([]domain.CatalogItem, 0)
	for _, items := range pages {
		for _, it := range items {
			if it.NativeID == "" {
				continue
			}
			if _, ok := seen[it.NativeID]; ok {
				continue
			}
			seen[it.NativeID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}
