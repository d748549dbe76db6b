// Package catalogsync 周期性地为每个语言分区构建“最近上架”目录并写入缓存。
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
	"github.com/asaddon/EinthusanTV/internal/infra/logx"
	"github.com/asaddon/EinthusanTV/internal/provider"
	"github.com/asaddon/EinthusanTV/internal/reconcile"
)

const (
	DefaultMaxPages        = reconcile.DefaultRecentPages
	DefaultInterval        = 12 * time.Hour
	DefaultPageRetries     = 10
	DefaultRateLimitDelay  = 5 * time.Second
	DefaultPagePacing      = time.Second
	DefaultSessionInterval = 24 * time.Hour
)

type Options struct {
	Partitions []domain.Partition
	MaxPages   int
	Interval   time.Duration

	// PageRetries 是单页失败（含限流）后的最大重试次数。
	PageRetries    int
	RateLimitDelay time.Duration
	// PagePacing 是同一分区内列表页请求（超出首轮之后）的最小间隔；<0 表示不限速。
	// 首轮各页同时发出，分区之间互不影响。
	PagePacing      time.Duration
	SessionInterval time.Duration

	// SkipInitial 为 true 时 Run 不做启动同步，首次同步在一个 Interval 之后。
	SkipInitial bool
}

func (o Options) withDefaults() Options {
	if len(o.Partitions) == 0 {
		o.Partitions = append([]domain.Partition(nil), domain.Partitions...)
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.PageRetries < 0 {
		o.PageRetries = 0
	} else if o.PageRetries == 0 {
		o.PageRetries = DefaultPageRetries
	}
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = DefaultRateLimitDelay
	}
	if o.PagePacing == 0 {
		o.PagePacing = DefaultPagePacing
	}
	if o.SessionInterval <= 0 {
		o.SessionInterval = DefaultSessionInterval
	}
	return o
}

type Deps struct {
	Engine   *reconcile.Engine
	InFlight *cache.Group
	Logger   logrus.FieldLogger
	Observer Observer
	// Session 非空时在 Run 开始以及每个 SessionInterval 调用（失败只记日志）。
	Session func(ctx context.Context) error
	Now     func() time.Time
}

type Synchronizer struct {
	eng      *reconcile.Engine
	inflight *cache.Group
	log      logrus.FieldLogger
	obs      Observer
	session  func(ctx context.Context) error
	now      func() time.Time
	opts     Options
}

var _ reconcile.CatalogLoader = (*Synchronizer)(nil)

func New(d Deps, opts Options) (*Synchronizer, error) {
	if d.Engine == nil {
		return nil, errors.New("engine 不能为空")
	}
	opts = opts.withDefaults()
	for _, p := range opts.Partitions {
		if _, ok := domain.ParsePartition(string(p)); !ok {
			return nil, fmt.Errorf("未知分区：%q", p)
		}
	}
	s := &Synchronizer{
		eng:      d.Engine,
		inflight: d.InFlight,
		log:      d.Logger,
		obs:      d.Observer,
		session:  d.Session,
		now:      d.Now,
		opts:     opts,
	}
	if s.inflight == nil {
		s.inflight = &cache.Group{}
	}
	if s.log == nil {
		s.log = logx.Discard()
	}
	if s.obs == nil {
		s.obs = LogObserver{Log: s.log}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Synchronizer) Options() Options { return s.opts }

// Load 实现 reconcile.CatalogLoader：目录缓存未命中时按需同步一个分区。
// 同一分区的并发请求共享一次同步。
func (s *Synchronizer) Load(ctx context.Context, p domain.Partition, pages int) ([]domain.CatalogItem, error) {
	if pages <= 0 {
		pages = s.opts.MaxPages
	}
	key := "sync_" + string(p) + "_" + strconv.Itoa(pages)
	v, _, err := s.inflight.Do(ctx, key, func(ctx context.Context) (any, error) {
		items, _ := s.syncPartition(ctx, p, pages)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	items, _ := v.([]domain.CatalogItem)
	return items, nil
}

// SyncPartition 抓取分区的前 MaxPages 页并写入目录缓存。
func (s *Synchronizer) SyncPartition(ctx context.Context, p domain.Partition) domain.PartitionResult {
	_, res := s.syncPartition(ctx, p, s.opts.MaxPages)
	return res
}

type pageResult struct {
	items   []domain.CatalogItem
	dropped int
	err     error
}

func (s *Synchronizer) syncPartition(ctx context.Context, p domain.Partition, pages int) ([]domain.CatalogItem, domain.PartitionResult) {
	started := time.Now()
	res := domain.PartitionResult{Partition: string(p)}

	pacer := s.newPacer(pages)
	results := make([]pageResult, pages)
	wp := pool.New().WithMaxGoroutines(pages)
	for i := range results {
		i := i
		page := i + 1
		wp.Go(func() {
			pageStarted := time.Now()
			r := s.fetchPage(ctx, pacer, p, page)
			results[i] = r
			s.obs.OnPageDone(p, page, len(r.items), r.err, time.Since(pageStarted))
		})
	}
	wp.Wait()

	var lastErr error
	all := make([][]domain.CatalogItem, 0, pages)
	for _, r := range results {
		res.Dropped += r.dropped
		if r.err != nil {
			res.PagesFailed++
			lastErr = r.err
			continue
		}
		res.PagesOK++
		all = append(all, r.items)
	}

	items := reconcile.MergeUnique(all...)
	res.Items = len(items)
	for _, it := range items {
		if it.HasCanonicalID() {
			res.Canonical++
		}
	}

	switch {
	case res.PagesFailed == 0:
		res.Status = domain.StatusOK
	case res.PagesOK == 0:
		res.Status = domain.StatusFailed
	default:
		res.Status = domain.StatusPartial
	}
	if lastErr != nil {
		res.ErrorCode = errorCode(lastErr)
		res.ErrorMsg = lastErr.Error()
	}

	// 全部失败时不覆盖旧缓存（旧目录总比空目录好）。
	if res.Status != domain.StatusFailed {
		if err := s.eng.StoreRecent(p, pages, items); err != nil {
			s.log.WithError(err).WithField("partition", p).Warn("写入目录缓存失败")
		}
	}
	s.obs.OnPartitionDone(res, time.Since(started))
	return items, res
}

// newPacer 为一次分区同步创建限速器：令牌桶容量等于页数，首轮请求不排队，重试按 PagePacing 补充。
func (s *Synchronizer) newPacer(pages int) *rate.Limiter {
	if s.opts.PagePacing <= 0 {
		return rate.NewLimiter(rate.Inf, pages)
	}
	return rate.NewLimiter(rate.Every(s.opts.PagePacing), pages)
}

func (s *Synchronizer) fetchPage(ctx context.Context, pacer *rate.Limiter, p domain.Partition, page int) pageResult {
	pageURL := s.eng.Site().RecentURL(p, page)
	log := s.log.WithFields(logrus.Fields{"partition": p, "page": page})

	var out reconcile.Page
	policy := httpx.RetryPolicy{
		Retries:   s.opts.PageRetries,
		BaseDelay: s.opts.PagePacing,
		Fixed:     true,
		RetryIf:   func(err error) bool { return ctx.Err() == nil && !isPermanent(err) },
		OnRetry: func(n int, err error) {
			log.WithError(err).Debugf("列表页重试（第 %d 次）", n)
		},
	}
	err := httpx.Retry(ctx, policy, func(ctx context.Context) error {
		if err := pacer.Wait(ctx); err != nil {
			return err
		}
		pg, err := s.eng.ListingPage(ctx, pageURL, p)
		if err != nil {
			var rl *httpx.RateLimitedError
			if errors.As(err, &rl) {
				wait := s.opts.RateLimitDelay
				if rl.RetryAfter > wait {
					wait = rl.RetryAfter
				}
				log.WithField("wait", wait).Info("被限流，等待后重试")
				if werr := sleep(ctx, wait); werr != nil {
					return werr
				}
			}
			return err
		}
		out = pg
		return nil
	})
	if err != nil {
		return pageResult{err: err}
	}
	if out.Stats.Found == 0 {
		log.Warn("列表页没有条目")
	}
	return pageResult{items: out.Items, dropped: out.Stats.Dropped}
}

// SyncAll 并发同步所有分区；单个分区失败不影响其它分区。
func (s *Synchronizer) SyncAll(ctx context.Context) domain.SyncReport {
	rep := domain.SyncReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	s.obs.OnStart(rep.RunID, s.opts.Partitions, s.opts.MaxPages)

	parts := make([]domain.PartitionResult, len(s.opts.Partitions))
	wp := pool.New().WithMaxGoroutines(len(s.opts.Partitions))
	for i, p := range s.opts.Partitions {
		i, p := i, p
		wp.Go(func() {
			parts[i] = s.SyncPartition(ctx, p)
		})
	}
	wp.Wait()

	rep.Partitions = parts
	rep.FinishedAt = s.now()
	rep.Finalize()
	s.obs.OnFinish(rep)
	return rep
}

// Run 立即同步一次（SkipInitial 除外），然后每个 Interval 再同步；会话登录独立按 SessionInterval 刷新。
// ctx 取消后返回。
func (s *Synchronizer) Run(ctx context.Context) {
	var wg conc.WaitGroup
	if s.session != nil {
		s.bootstrap(ctx)
		wg.Go(func() {
			every(ctx, s.opts.SessionInterval, func() { s.bootstrap(ctx) })
		})
	}
	wg.Go(func() {
		if !s.opts.SkipInitial {
			s.SyncAll(ctx)
		}
		every(ctx, s.opts.Interval, func() { s.SyncAll(ctx) })
	})
	wg.Wait()
}

func (s *Synchronizer) bootstrap(ctx context.Context) {
	if err := s.session(ctx); err != nil {
		s.log.WithError(err).Warn("登录失败，继续以未登录状态运行")
		return
	}
	s.log.Info("会话已建立")
}

func every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isPermanent：除 429 外的 4xx 重试也不会变好。
func isPermanent(err error) bool {
	var se *httpx.HTTPStatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
}

func errorCode(err error) string {
	var rl *httpx.RateLimitedError
	if errors.As(err, &rl) {
		return domain.ErrCodeRateLimited
	}
	var se *httpx.HTTPStatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return domain.ErrCodeNotFound
	}
	return provider.ErrorCode(err)
}
