// Package metrics 把执行器、缓存与同步器的运行状态导出为 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/cache"
)

const namespace = "einthusan"

// ExecutorStats 由 httpx.Executor 实现。
type ExecutorStats interface {
	InFlight() int64
	Queued() int64
}

// CacheStats 由 cache.Store 实现。
type CacheStats interface {
	Stats() cache.Stats
}

// Registry 持有独立的 prometheus.Registry（不污染全局默认注册表）。
type Registry struct {
	reg *prometheus.Registry

	syncPages      *prometheus.CounterVec
	syncItems      *prometheus.GaugeVec
	syncDuration   *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		syncPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "pages_total",
			Help: "列表页同步次数（按分区与结果）。",
		}, []string{"partition", "result"}),
		syncItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "catalog_items",
			Help: "最近一次同步后分区目录的条目数。",
		}, []string{"partition"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "partition_duration_seconds",
			Help:    "单个分区同步耗时。",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"partition", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "addon HTTP 请求数。",
		}, []string{"route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "addon HTTP 请求耗时。",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(r.syncPages, r.syncItems, r.syncDuration, r.requests, r.requestLatency)
	return r
}

// Gatherer 便于测试直接读取指标。
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler 返回 /metrics 的处理器。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// WatchExecutor 以 GaugeFunc 形式导出执行器的在途与排队数（抓取时读取）。
func (r *Registry) WatchExecutor(e ExecutorStats) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "executor", Name: "in_flight",
			Help: "正在执行的上游请求数。",
		}, func() float64 { return float64(e.InFlight()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "executor", Name: "queued",
			Help: "等待执行槽位的上游请求数。",
		}, func() float64 { return float64(e.Queued()) }),
	)
}

// WatchCache 导出缓存命中率相关计数。
func (r *Registry) WatchCache(c CacheStats) {
	counter := func(name, help string, pick func(cache.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: name, Help: help,
		}, func() float64 { return float64(pick(c.Stats())) })
	}
	r.reg.MustRegister(
		counter("hits_total", "缓存命中次数。", func(s cache.Stats) int64 { return s.Hits }),
		counter("misses_total", "缓存未命中次数（含过期）。", func(s cache.Stats) int64 { return s.Misses }),
		counter("sets_total", "缓存写入次数。", func(s cache.Stats) int64 { return s.Sets }),
		counter("evictions_total", "容量淘汰次数。", func(s cache.Stats) int64 { return s.Evictions }),
		counter("expired_total", "过期清理次数。", func(s cache.Stats) int64 { return s.Expired }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "entries",
			Help: "当前缓存条目数。",
		}, func() float64 { return float64(c.Stats().Entries) }),
	)
}

// SyncObserver 返回一个把同步事件记为指标的观察者（实现 catalogsync.Observer）。
func (r *Registry) SyncObserver() SyncObserver { return SyncObserver{r: r} }

type SyncObserver struct{ r *Registry }

func (SyncObserver) OnStart(string, []domain.Partition, int) {}

func (o SyncObserver) OnPageDone(p domain.Partition, _, _ int, err error, _ time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.r.syncPages.WithLabelValues(string(p), result).Inc()
}

func (o SyncObserver) OnPartitionDone(res domain.PartitionResult, dur time.Duration) {
	o.r.syncDuration.WithLabelValues(res.Partition, res.Status).Observe(dur.Seconds())
	if res.Status != domain.StatusFailed {
		o.r.syncItems.WithLabelValues(res.Partition).Set(float64(res.Items))
	}
}

func (SyncObserver) OnFinish(domain.SyncReport) {}

// ObserveRequest 记录一次 HTTP 请求（route 使用路由模板，避免高基数）。
func (r *Registry) ObserveRequest(route string, code int, dur time.Duration) {
	r.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.requestLatency.WithLabelValues(route).Observe(dur.Seconds())
}
