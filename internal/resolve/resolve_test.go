package resolve

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
	"github.com/asaddon/EinthusanTV/internal/provider"
)

type stubLookup struct {
	calls atomic.Int32
	ids   map[string]domain.CanonicalID // key: name|year
	err   error
	gate  chan struct{}
}

func (s *stubLookup) Lookup(ctx context.Context, name string, year int) (domain.CanonicalID, bool, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return "", false, s.err
	}
	id, ok := s.ids[name+"|"+itoa(year)]
	return id, ok, nil
}

func itoa(y int) string {
	if y == 0 {
		return "any"
	}
	return strconv.Itoa(y)
}

type stubTitle struct {
	name  string
	calls atomic.Int32
	// failFirst 次调用返回错误，之后返回 title
	failFirst int32
	title     string
	gate      chan struct{}
}

func (p *stubTitle) Name() string { return p.name }

func (p *stubTitle) Fetch(ctx context.Context, id domain.CanonicalID, f provider.Fetcher) ([]byte, string, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if n <= p.failFirst {
		return nil, "", &httpx.HTTPStatusError{StatusCode: 503}
	}
	return []byte(p.title), "stub://" + string(id), nil
}

func (p *stubTitle) Parse(id domain.CanonicalID, body []byte) (string, error) {
	return string(body), nil
}

func newResolver(t *testing.T, lk provider.NameLookup, providers ...provider.TitleProvider) *Resolver {
	t.Helper()
	store, err := cache.New(cache.Options{})
	require.NoError(t, err)
	reg, err := provider.NewRegistry(providers...)
	require.NoError(t, err)
	retry := httpx.RetryPolicy{Retries: 5, BaseDelay: time.Millisecond, Fixed: true}
	r, err := New(Deps{
		Lookup:     lk,
		Registry:   reg,
		Cache:      store,
		ChainRetry: &retry,
		Now:        func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return r
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Pathaan", CleanTitle("Pathaan (Film)"))
	assert.Equal(t, "Vikram", CleanTitle("Vikram (2022)"))
	assert.Equal(t, "1 Nenokkadine", CleanTitle("#1 Nenokkadine"))
	assert.Equal(t, "Drishyam (2) Returns", CleanTitle("Drishyam (2) Returns"))
}

func TestCanonicalID_InvalidInputNoNetwork(t *testing.T) {
	lk := &stubLookup{}
	r := newResolver(t, lk)

	for _, y := range []string{"1887", "2027", "abc", "20x3"} {
		_, _, err := r.CanonicalID(context.Background(), "Pathaan", y)
		assert.ErrorIs(t, err, ErrInvalidYear, "year=%q", y)
	}
	_, _, err := r.CanonicalID(context.Background(), "  ", "2023")
	assert.ErrorIs(t, err, ErrInvalidTitle)
	_, _, err = r.CanonicalID(context.Background(), "#", "")
	assert.ErrorIs(t, err, ErrInvalidTitle)

	assert.Equal(t, int32(0), lk.calls.Load(), "非法输入不应发起查询")
}

func TestCanonicalID_CachesHits(t *testing.T) {
	lk := &stubLookup{ids: map[string]domain.CanonicalID{"Pathaan|2023": "tt12844910"}}
	r := newResolver(t, lk)

	for i := 0; i < 3; i++ {
		id, ok, err := r.CanonicalID(context.Background(), "Pathaan (Film)", "2023")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.CanonicalID("tt12844910"), id)
	}
	assert.Equal(t, int32(1), lk.calls.Load())

	// 缓存 key 使用规范化标题：不同写法命中同一条目。
	_, ok, _ := r.CanonicalID(context.Background(), "PATHAAN", "2023")
	assert.True(t, ok)
	assert.Equal(t, int32(1), lk.calls.Load())
}

func TestCanonicalID_WellFormedNeverErrors(t *testing.T) {
	lk := &stubLookup{err: errors.New("upstream down")}
	r := newResolver(t, lk)

	for _, y := range []string{"", "1888", "2000", "2026"} {
		id, ok, err := r.CanonicalID(context.Background(), "Anything", y)
		require.NoError(t, err, "year=%q", y)
		assert.False(t, ok)
		assert.Empty(t, id)
	}

	lk2 := &stubLookup{ids: map[string]domain.CanonicalID{}}
	r2 := newResolver(t, lk2)
	_, ok, err := r2.CanonicalID(context.Background(), "Nope", "2020")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanonicalID_ConcurrentCallsShareLookup(t *testing.T) {
	lk := &stubLookup{ids: map[string]domain.CanonicalID{"Jawan|2023": "tt15354916"}, gate: make(chan struct{})}
	r := newResolver(t, lk)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok, err := r.CanonicalID(context.Background(), "Jawan", "2023")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, domain.CanonicalID("tt15354916"), id)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(lk.gate)
	wg.Wait()
	assert.Equal(t, int32(1), lk.calls.Load())
}

func TestTitle_MalformedIDRejectedWithoutNetwork(t *testing.T) {
	p := &stubTitle{name: "suggest", title: "X"}
	r := newResolver(t, &stubLookup{}, p)

	for _, id := range []string{"", "tt123", "tt123456789", "nm1234567", "einthusan_abc", "tt12345a7"} {
		_, err := r.Title(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidID, "id=%q", id)
	}
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestTitle_InFlightDedup(t *testing.T) {
	p := &stubTitle{name: "suggest", title: "Jawan", gate: make(chan struct{})}
	r := newResolver(t, &stubLookup{}, p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title, err := r.Title(context.Background(), "tt15354916")
			assert.NoError(t, err)
			assert.Equal(t, "Jawan", title)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load(), "并发调用只应触发一次上游请求")

	// 结果已缓存：再次调用不触发请求。
	_, err := r.Title(context.Background(), "tt15354916")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTitle_FallbackOrderAndChainRetry(t *testing.T) {
	suggest := &stubTitle{name: "suggest", failFirst: 100}
	omdb := &stubTitle{name: "omdb", failFirst: 2, title: "Pathaan"}
	r := newResolver(t, &stubLookup{}, suggest, omdb)

	title, err := r.Title(context.Background(), "tt12844910")
	require.NoError(t, err)
	assert.Equal(t, "Pathaan", title)
	// 链路整体失败两次，第三次由 omdb 成功。
	assert.Equal(t, int32(3), suggest.calls.Load())
	assert.Equal(t, int32(3), omdb.calls.Load())
}

func TestTitle_AllProvidersFail(t *testing.T) {
	p := &stubTitle{name: "suggest", failFirst: 100}
	r := newResolver(t, &stubLookup{}, p)

	_, err := r.Title(context.Background(), "tt1234567")
	require.ErrorIs(t, err, ErrNoTitle)
	var pe *provider.Error
	assert.True(t, errors.As(err, &pe), "应保留 provider 错误链：%v", err)
	assert.Equal(t, int32(6), p.calls.Load(), "首次 + 5 次重试")
}
