package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
	"github.com/asaddon/EinthusanTV/internal/reconcile"
)

const base = "https://site.test"

// scriptSite 按 URL 返回页面；同一 URL 的第 n 次请求由 respond 决定。
type scriptSite struct {
	mu      sync.Mutex
	hits    map[string]int
	respond func(url string, n int) (string, error)
}

func (s *scriptSite) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	if s.hits == nil {
		s.hits = map[string]int{}
	}
	s.hits[url]++
	n := s.hits[url]
	s.mu.Unlock()

	body, err := s.respond(url, n)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (s *scriptSite) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[url]
}

type mapResolver struct {
	ids    map[string]domain.CanonicalID
	titles map[string]string
}

func (r mapResolver) CanonicalID(ctx context.Context, title, year string) (domain.CanonicalID, bool, error) {
	id, ok := r.ids[title]
	return id, ok, nil
}

func (r mapResolver) Title(ctx context.Context, id string) (string, error) {
	if t, ok := r.titles[id]; ok {
		return t, nil
	}
	return "", errors.New("no title")
}

func listing(items ...[2]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><section id="UIMovieSummary"><ul>`)
	for _, it := range items {
		fmt.Fprintf(&b, `<li><div class="block1"><a href="/movie/watch/%[1]s/"><img src="//img.test/%[1]s.jpg"></a></div>`+
			`<div class="block2"><a class="title" href="/movie/watch/%[1]s/"><h3>%[2]s</h3></a>`+
			`<div class="info"><p>2023<span>Hindi</span></p></div></div></li>`, it[0], it[1])
	}
	b.WriteString(`</ul></section></body></html>`)
	return b.String()
}

const rateLimited = `<html><head><title>Rate Limited - Einthusan</title></head><body></body></html>`

func newSync(t *testing.T, site *scriptSite, r mapResolver, opts Options, obs Observer) (*Synchronizer, *reconcile.Engine) {
	t.Helper()
	store, err := cache.New(cache.Options{})
	require.NoError(t, err)
	eng, err := reconcile.New(reconcile.Deps{Fetcher: site, Resolver: r, Cache: store, BaseURL: base})
	require.NoError(t, err)

	if opts.PagePacing == 0 {
		opts.PagePacing = -1
	}
	if opts.RateLimitDelay == 0 {
		opts.RateLimitDelay = time.Millisecond
	}
	s, err := New(Deps{Engine: eng, Observer: obs}, opts)
	require.NoError(t, err)
	eng.SetLoader(s)
	return s, eng
}

func pageURL(p domain.Partition, n int) string {
	return reconcile.Site{BaseURL: base}.RecentURL(p, n)
}

func TestSyncPartition_MergesPagesAndCaches(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		switch url {
		case pageURL(domain.Hindi, 1):
			return listing([2]string{"A", "Pathaan"}, [2]string{"B", "Jawan"}), nil
		case pageURL(domain.Hindi, 2):
			return listing([2]string{"B", "Jawan Duplicate"}, [2]string{"C", "Dunki"}), nil
		}
		return "", &httpx.HTTPStatusError{URL: url, StatusCode: 404}
	}}
	r := mapResolver{
		ids:    map[string]domain.CanonicalID{"Pathaan": "tt12844910"},
		titles: map[string]string{"tt12844910": "Pathaan"},
	}
	s, eng := newSync(t, site, r, Options{Partitions: []domain.Partition{domain.Hindi}, MaxPages: 2}, nil)

	res := s.SyncPartition(context.Background(), domain.Hindi)
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, 2, res.PagesOK)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 1, res.Canonical)

	items, ok := eng.CachedRecent(domain.Hindi, 2)
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, "tt12844910", items[0].ID)
	assert.Equal(t, "Jawan", items[1].Title, "重复的原生 ID 保留首次出现")
	assert.Equal(t, "einthusan_C", items[2].ID)
}

func TestSyncPartition_RateLimitedPageIsRetried(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		if n == 1 {
			return rateLimited, nil
		}
		return listing([2]string{"X", "Leo"}), nil
	}}
	s, _ := newSync(t, site, mapResolver{}, Options{Partitions: []domain.Partition{domain.Tamil}, MaxPages: 1}, nil)

	res := s.SyncPartition(context.Background(), domain.Tamil)
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, 1, res.Items)
	assert.Equal(t, 2, site.count(pageURL(domain.Tamil, 1)))
}

func TestSyncPartition_RetriesAreBounded(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		return rateLimited, nil
	}}
	s, eng := newSync(t, site, mapResolver{}, Options{
		Partitions:  []domain.Partition{domain.Telugu},
		MaxPages:    1,
		PageRetries: 2,
	}, nil)

	res := s.SyncPartition(context.Background(), domain.Telugu)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.ErrCodeRateLimited, res.ErrorCode)
	assert.Equal(t, 3, site.count(pageURL(domain.Telugu, 1)))

	_, ok := eng.CachedRecent(domain.Telugu, 1)
	assert.False(t, ok, "全部失败时不写缓存")
}

func TestSyncPartition_ClientErrorNotRetried(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		return "", &httpx.HTTPStatusError{URL: url, StatusCode: 404}
	}}
	s, _ := newSync(t, site, mapResolver{}, Options{
		Partitions: []domain.Partition{domain.Bengali},
		MaxPages:   1,
	}, nil)

	res := s.SyncPartition(context.Background(), domain.Bengali)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.ErrCodeNotFound, res.ErrorCode)
	assert.Equal(t, 1, site.count(pageURL(domain.Bengali, 1)))
}

func TestSyncPartition_PartialFailure(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		if url == pageURL(domain.Malayalam, 2) {
			return "", &httpx.HTTPStatusError{URL: url, StatusCode: 500}
		}
		return listing([2]string{"M", "Premam"}), nil
	}}
	s, eng := newSync(t, site, mapResolver{}, Options{
		Partitions:  []domain.Partition{domain.Malayalam},
		MaxPages:    2,
		PageRetries: -1,
	}, nil)

	res := s.SyncPartition(context.Background(), domain.Malayalam)
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, 1, res.PagesOK)
	assert.Equal(t, 1, res.PagesFailed)
	assert.Equal(t, domain.ErrCodeFetchFailed, res.ErrorCode)

	items, ok := eng.CachedRecent(domain.Malayalam, 2)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

type recordObserver struct {
	mu         sync.Mutex
	starts     int
	pages      int
	partitions []string
	finished   chan domain.SyncReport
}

func (o *recordObserver) OnStart(runID string, partitions []domain.Partition, pages int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *recordObserver) OnPageDone(p domain.Partition, page, items int, err error, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages++
}

func (o *recordObserver) OnPartitionDone(res domain.PartitionResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.partitions = append(o.partitions, res.Partition)
}

func (o *recordObserver) OnFinish(rep domain.SyncReport) {
	if o.finished != nil {
		select {
		case o.finished <- rep:
		default:
		}
	}
}

func TestSyncAll_ReportAndEvents(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		if strings.Contains(url, "lang=kannada") {
			return "", errors.New("connection reset")
		}
		return listing([2]string{"K", "Film"}), nil
	}}
	obs := &recordObserver{finished: make(chan domain.SyncReport, 1)}
	s, _ := newSync(t, site, mapResolver{}, Options{
		Partitions:  []domain.Partition{domain.Tamil, domain.Kannada, domain.Hindi},
		MaxPages:    2,
		PageRetries: -1,
	}, obs)

	rep := s.SyncAll(context.Background())
	require.NotEmpty(t, rep.RunID)
	require.Len(t, rep.Partitions, 3)
	assert.Equal(t, []string{"hindi", "kannada", "tamil"},
		[]string{rep.Partitions[0].Partition, rep.Partitions[1].Partition, rep.Partitions[2].Partition})
	assert.Equal(t, domain.SyncSummary{OK: 2, Failed: 1, Items: 2}, rep.Summary)
	assert.True(t, rep.HasFailures())

	assert.Equal(t, 1, obs.starts)
	assert.Equal(t, 6, obs.pages)
	assert.Len(t, obs.partitions, 3)
	assert.Equal(t, rep.RunID, (<-obs.finished).RunID)
}

func TestLoad_ServesEngineCatalogMiss(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		return listing([2]string{"P", "Punjab 1984"}), nil
	}}
	_, eng := newSync(t, site, mapResolver{}, Options{Partitions: []domain.Partition{domain.Punjabi}, MaxPages: 1}, nil)

	items, err := eng.Catalog(context.Background(), domain.Punjabi, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "einthusan_P", items[0].ID)

	_, err = eng.Catalog(context.Background(), domain.Punjabi, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, site.count(pageURL(domain.Punjabi, 1)), "第二次应命中目录缓存")
}

func TestRun_BootstrapsSessionAndStopsOnCancel(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		return listing([2]string{"R", "Film"}), nil
	}}
	var sessions atomic.Int32
	obs := &recordObserver{finished: make(chan domain.SyncReport, 1)}

	store, err := cache.New(cache.Options{})
	require.NoError(t, err)
	eng, err := reconcile.New(reconcile.Deps{Fetcher: site, Resolver: mapResolver{}, Cache: store, BaseURL: base})
	require.NoError(t, err)
	s, err := New(Deps{
		Engine:   eng,
		Observer: obs,
		Session: func(ctx context.Context) error {
			sessions.Add(1)
			return errors.New("bad credentials")
		},
	}, Options{Partitions: []domain.Partition{domain.Bengali}, MaxPages: 1, PagePacing: -1, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-obs.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("首次同步未完成")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run 未在取消后返回")
	}
	assert.Equal(t, int32(1), sessions.Load(), "登录失败不影响同步")
}

func TestNew_RejectsUnknownPartition(t *testing.T) {
	store, err := cache.New(cache.Options{})
	require.NoError(t, err)
	eng, err := reconcile.New(reconcile.Deps{Fetcher: &scriptSite{}, Resolver: mapResolver{}, Cache: store})
	require.NoError(t, err)

	_, err = New(Deps{Engine: eng}, Options{Partitions: []domain.Partition{"english"}})
	assert.Error(t, err)
	_, err = New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestRun_SkipInitial(t *testing.T) {
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		return listing([2]string{"S", "Film"}), nil
	}}
	s, _ := newSync(t, site, mapResolver{}, Options{
		Partitions:  []domain.Partition{domain.Marathi},
		MaxPages:    1,
		Interval:    time.Hour,
		SkipInitial: true,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, 0, site.count(pageURL(domain.Marathi, 1)), "SkipInitial 时不应立即同步")
}

func TestSyncAll_PagesRunConcurrentlyAcrossPartitions(t *testing.T) {
	var active, peak atomic.Int32
	site := &scriptSite{respond: func(url string, n int) (string, error) {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		active.Add(-1)
		return listing([2]string{"C", "Film"}), nil
	}}
	s, _ := newSync(t, site, mapResolver{}, Options{
		Partitions: []domain.Partition{domain.Hindi, domain.Tamil},
		MaxPages:   3,
		PagePacing: time.Second,
	}, nil)

	started := time.Now()
	rep := s.SyncAll(context.Background())
	elapsed := time.Since(started)

	assert.Equal(t, 2, rep.Summary.OK)
	assert.Greater(t, peak.Load(), int32(3), "不同分区的页应同时在途")
	assert.Less(t, elapsed, time.Second, "首轮页请求不应被限速排队")
}
