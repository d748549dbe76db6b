// Package resolve 实现外部 ID 的双向解析：
// 标题 -> 外部 ID（名称查询），外部 ID -> 标题（多 provider 回退链）。
package resolve

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/extract"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
	"github.com/asaddon/EinthusanTV/internal/infra/logx"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

const minYear = 1888

var (
	ErrInvalidID    = errors.New("resolve: 非法的外部 ID（应为 tt + 7~8 位数字）")
	ErrInvalidYear  = errors.New("resolve: 年份必须在 1888 与今年之间")
	ErrInvalidTitle = errors.New("resolve: 标题不能为空")
	ErrNoTitle      = errors.New("resolve: 所有 provider 均未返回标题")
)

// DefaultChainRetry 是整条 provider 链全部失败后的重试策略（固定间隔）。
func DefaultChainRetry() httpx.RetryPolicy {
	return httpx.RetryPolicy{Retries: 5, BaseDelay: time.Second, Fixed: true}
}

type Deps struct {
	Fetcher  provider.Fetcher
	Lookup   provider.NameLookup
	Registry provider.Registry
	// Order 为空时使用 Registry 的注册顺序。
	Order []string

	Cache    *cache.Store
	InFlight *cache.Group
	Logger   logrus.FieldLogger

	// ChainRetry 为零值时使用 DefaultChainRetry。
	ChainRetry *httpx.RetryPolicy
	Now        func() time.Time
}

type Resolver struct {
	fetcher provider.Fetcher
	lookup  provider.NameLookup
	reg     provider.Registry
	order   []string

	imdb     cache.Scoped
	titles   cache.Scoped
	inflight *cache.Group
	log      logrus.FieldLogger
	retry    httpx.RetryPolicy
	now      func() time.Time
}

func New(d Deps) (*Resolver, error) {
	if d.Cache == nil {
		return nil, errors.New("cache 不能为空")
	}
	if d.Lookup == nil {
		return nil, errors.New("name lookup 不能为空")
	}
	r := &Resolver{
		fetcher:  d.Fetcher,
		lookup:   d.Lookup,
		reg:      d.Registry,
		order:    d.Order,
		imdb:     d.Cache.Scope(cache.NSImdb),
		titles:   d.Cache.Scope(cache.NSTitle),
		inflight: d.InFlight,
		log:      d.Logger,
		retry:    DefaultChainRetry(),
		now:      d.Now,
	}
	if r.inflight == nil {
		r.inflight = &cache.Group{}
	}
	if r.log == nil {
		r.log = logx.Discard()
	}
	if d.ChainRetry != nil {
		r.retry = *d.ChainRetry
	}
	if r.now == nil {
		r.now = time.Now
	}
	if len(r.order) == 0 {
		r.order = r.reg.Names()
	}
	return r, nil
}

var trailingParenRE = regexp.MustCompile(`\s?\(.*?\)$`)

// CleanTitle 去掉末尾的括号后缀（如 "(Film)"、"(2019)"）并删除所有 '#'。
func CleanTitle(title string) string {
	t := strings.TrimSpace(title)
	t = trailingParenRE.ReplaceAllString(t, "")
	t = strings.ReplaceAll(t, "#", "")
	return strings.TrimSpace(t)
}

// ParseYear 校验年份；空字符串表示不限年份（返回 0）。
func (r *Resolver) ParseYear(year string) (int, error) {
	year = strings.TrimSpace(year)
	if year == "" {
		return 0, nil
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < minYear || y > r.now().Year() {
		return 0, fmt.Errorf("%w：%q", ErrInvalidYear, year)
	}
	return y, nil
}

// CanonicalID 按“清洗后的标题 + 年份”查询外部 ID。
//
// 输入非法（空标题、年份越界）时立即返回错误，不发起任何网络请求；
// 输入合法时只会返回 (id, true, nil) 或 (“”, false, nil)，上游失败记日志后视为未命中。
func (r *Resolver) CanonicalID(ctx context.Context, title, year string) (domain.CanonicalID, bool, error) {
	if strings.TrimSpace(title) == "" {
		return "", false, ErrInvalidTitle
	}
	y, err := r.ParseYear(year)
	if err != nil {
		return "", false, err
	}
	cleaned := CleanTitle(title)
	if cleaned == "" {
		return "", false, ErrInvalidTitle
	}

	ySeg := "any"
	if y > 0 {
		ySeg = strconv.Itoa(y)
	}
	key := extract.NormalizeTitle(cleaned) + "_" + ySeg

	var cached string
	if ok, _ := r.imdb.Get(key, &cached); ok {
		if id, valid := domain.ParseCanonicalID(cached); valid {
			return id, true, nil
		}
	}

	v, _, err := r.inflight.Do(ctx, string(cache.NSImdb)+key, func(ctx context.Context) (any, error) {
		id, ok, err := r.lookup.Lookup(ctx, cleaned, y)
		if err != nil || !ok {
			return domain.CanonicalID(""), err
		}
		if err := r.imdb.Set(key, string(id), 0); err != nil {
			r.log.WithError(err).Warn("写入缓存失败")
		}
		return id, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		r.log.WithFields(logrus.Fields{"title": cleaned, "year": ySeg}).WithError(err).Warn("外部 ID 查询失败")
		return "", false, nil
	}
	id, _ := v.(domain.CanonicalID)
	if id == "" {
		r.log.WithFields(logrus.Fields{"title": cleaned, "original": title, "year": ySeg}).Debug("未找到外部 ID")
		return "", false, nil
	}
	return id, true, nil
}

// Title 通过 provider 回退链取外部 ID 对应的标题。
//
// 格式非法时立即返回 ErrInvalidID（不重试、不发请求）；
// 同一 ID 的并发调用只会触发一次上游请求。
func (r *Resolver) Title(ctx context.Context, id string) (string, error) {
	cid, ok := domain.ParseCanonicalID(id)
	if !ok {
		return "", fmt.Errorf("%w：%q", ErrInvalidID, id)
	}

	var cached string
	if ok, _ := r.titles.Get(string(cid), &cached); ok && cached != "" {
		return cached, nil
	}

	v, _, err := r.inflight.Do(ctx, string(cache.NSTitle)+string(cid), func(ctx context.Context) (any, error) {
		var title, used string
		p := r.retry
		p.RetryIf = func(err error) bool { return !errors.Is(err, context.Canceled) }
		p.OnRetry = func(n int, err error) {
			r.log.WithFields(logrus.Fields{"imdb_id": cid, "attempt": n}).WithError(err).Debug("标题链路失败，准备重试")
		}
		err := httpx.Retry(ctx, p, func(ctx context.Context) error {
			t, u, attempts, err := provider.TitleChainTrace(ctx, r.reg, r.order, cid, r.fetcher)
			if err != nil {
				for _, a := range attempts {
					r.log.WithFields(logrus.Fields{"imdb_id": cid, "provider": a.Provider, "stage": a.Stage}).WithError(a.Err).Debug("provider 尝试失败")
				}
				return err
			}
			title, used = t, u
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoTitle, err)
		}
		r.log.WithFields(logrus.Fields{"imdb_id": cid, "provider": used}).Debug("标题解析成功")
		if err := r.titles.Set(string(cid), title, 0); err != nil {
			r.log.WithError(err).Warn("写入缓存失败")
		}
		return title, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
