package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/asaddon/EinthusanTV/internal/addon"
	"github.com/asaddon/EinthusanTV/internal/catalogsync"
	"github.com/asaddon/EinthusanTV/internal/config"
	"github.com/asaddon/EinthusanTV/internal/enrich"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
	"github.com/asaddon/EinthusanTV/internal/infra/httpx"
	"github.com/asaddon/EinthusanTV/internal/infra/metrics"
	"github.com/asaddon/EinthusanTV/internal/provider"
	"github.com/asaddon/EinthusanTV/internal/provider/imdb"
	"github.com/asaddon/EinthusanTV/internal/provider/omdb"
	"github.com/asaddon/EinthusanTV/internal/reconcile"
	"github.com/asaddon/EinthusanTV/internal/resolve"
	"github.com/asaddon/EinthusanTV/internal/session"
)

// app 持有进程内共享的组件：同一个执行器、缓存与 in-flight 组贯穿全部调用路径。
type app struct {
	log      logrus.FieldLogger
	exec     *httpx.Executor
	store    *cache.Store
	engine   *reconcile.Engine
	sync     *catalogsync.Synchronizer
	metrics  *metrics.Registry
	posters  enrich.RPDB
	baseURL  string
	sessCred session.Credentials
}

func build(eff config.EffectiveConfig, log logrus.FieldLogger, progress catalogsync.Observer) (*app, error) {
	client, err := httpx.NewClient(httpx.ClientOptions{
		ProxyURL: eff.ProxyURL,
		Timeout:  eff.Timeout,
		Cookies:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 http client 失败：%w", err)
	}
	exec := httpx.NewExecutor(client, httpx.ExecutorOptions{
		Concurrency: eff.Concurrency,
		Timeout:     eff.Timeout,
		Retry:       httpx.DefaultRetryPolicy(),
	})

	store, err := cache.New(cache.Options{
		MaxEntries: eff.CacheMaxEntries,
		Codec:      cache.Codec(eff.CacheCodec),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败：%w", err)
	}
	inflight := &cache.Group{}

	suggest := imdb.Suggest{HTTP: exec}
	reg, err := provider.NewRegistry(
		suggest,
		omdb.Client{APIKey: eff.OMDBAPIKey},
		imdb.Page{},
	)
	if err != nil {
		return nil, fmt.Errorf("初始化 provider registry 失败：%w", err)
	}
	res, err := resolve.New(resolve.Deps{
		Fetcher:  exec,
		Lookup:   suggest,
		Registry: reg,
		Cache:    store,
		InFlight: inflight,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	eng, err := reconcile.New(reconcile.Deps{
		Fetcher:     exec,
		Resolver:    res,
		Cache:       store,
		InFlight:    inflight,
		Logger:      log,
		BaseURL:     eff.BaseURL,
		RecentPages: eff.MaxPages,
	})
	if err != nil {
		return nil, err
	}

	reg2 := metrics.New()
	reg2.WatchExecutor(exec)
	reg2.WatchCache(store)

	a := &app{
		log:      log,
		exec:     exec,
		store:    store,
		engine:   eng,
		metrics:  reg2,
		posters:  enrich.RPDB{HTTP: exec},
		baseURL:  eff.BaseURL,
		sessCred: session.Credentials{Email: eff.Email, Password: eff.Password},
	}

	obs := catalogsync.Observers{catalogsync.LogObserver{Log: log}, reg2.SyncObserver()}
	if progress != nil {
		obs = append(obs, progress)
	}
	var sess func(ctx context.Context) error
	if !a.sessCred.Empty() {
		sess = a.login
	}
	s, err := catalogsync.New(catalogsync.Deps{
		Engine:   eng,
		InFlight: inflight,
		Logger:   log,
		Observer: obs,
		Session:  sess,
	}, catalogsync.Options{
		Partitions:  eff.Partitions,
		MaxPages:    eff.MaxPages,
		Interval:    eff.SyncInterval,
		SkipInitial: !eff.SyncOnStart,
	})
	if err != nil {
		return nil, err
	}
	eng.SetLoader(s)
	a.sync = s
	return a, nil
}

func (a *app) login(ctx context.Context) error {
	return session.Bootstrap(ctx, a.exec.Client(), a.baseURL, a.sessCred)
}

// bootstrapSession 供一次性命令使用；失败只记日志。
func (a *app) bootstrapSession(ctx context.Context) {
	if a.sessCred.Empty() {
		return
	}
	if err := a.login(ctx); err != nil {
		a.log.WithError(err).Warn("登录失败，继续以未登录状态运行")
	}
}

// serve 运行 addon、后台同步与缓存清理，直到 ctx 取消。
func (a *app) serve(ctx context.Context, eff config.EffectiveConfig) error {
	rpdbKey := eff.RPDBKey
	if rpdbKey != "" {
		if err := a.posters.ValidateKey(ctx, rpdbKey); err != nil {
			a.log.WithError(err).Warn("RPDB key 不可用，保留原始海报")
			rpdbKey = ""
		}
	}
	srv, err := addon.New(addon.Options{
		Service: a.engine,
		Logger:  a.log,
		Metrics: a.metrics,
		Posters: a.posters,
		RPDBKey: rpdbKey,
	})
	if err != nil {
		return err
	}

	// 服务退出（含监听失败）时一并停止后台任务。
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { a.store.Run(ctx) })
	wg.Go(func() { a.sync.Run(ctx) })
	err = srv.ListenAndServe(ctx, ":"+strconv.Itoa(eff.Port))
	cancel()
	wg.Wait()
	return err
}
