// Package addon 是对外的 HTTP 表面：manifest、目录、详情与取流。
//
// 约束：
// - 只做参数解析与结果编码；对账逻辑全部在 reconcile 中
// - 非法输入 => 400；找不到 => 空结果；其它错误 => 5xx
package addon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/asaddon/EinthusanTV/internal/domain"
	"github.com/asaddon/EinthusanTV/internal/infra/logx"
	"github.com/asaddon/EinthusanTV/internal/infra/metrics"
	"github.com/asaddon/EinthusanTV/internal/reconcile"
)

const (
	DefaultRequestTimeout = 25 * time.Second
	cacheControl          = "max-age=86400, stale-while-revalidate"
)

// Service 是 addon 依赖的对账能力（reconcile.Engine 实现该接口）。
type Service interface {
	Catalog(ctx context.Context, p domain.Partition, pages int) ([]domain.CatalogItem, error)
	Search(ctx context.Context, p domain.Partition, query string) ([]domain.CatalogItem, error)
	Meta(ctx context.Context, id string, p domain.Partition) (*domain.Meta, error)
	Stream(ctx context.Context, id string, p domain.Partition) (*domain.Stream, error)
}

// PosterEnricher 在返回目录前替换海报（enrich.RPDB 实现该接口）。
type PosterEnricher interface {
	Apply(items []domain.CatalogItem, key string) []domain.CatalogItem
}

type Options struct {
	Service Service
	Logger  logrus.FieldLogger
	Metrics *metrics.Registry
	Posters PosterEnricher
	RPDBKey string
	Timeout time.Duration
}

type Server struct {
	svc     Service
	log     logrus.FieldLogger
	metrics *metrics.Registry
	posters PosterEnricher
	rpdbKey string
	timeout time.Duration
}

func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("service 不能为空")
	}
	s := &Server{
		svc:     opts.Service,
		log:     opts.Logger,
		metrics: opts.Metrics,
		posters: opts.Posters,
		rpdbKey: strings.TrimSpace(opts.RPDBKey),
		timeout: opts.Timeout,
	}
	if s.log == nil {
		s.log = logx.Discard()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	return s, nil
}

// Handler 组装路由与中间件。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/manifest.json", s.manifest).Methods(http.MethodGet)
	r.HandleFunc("/{configuration}/manifest.json", s.configuredManifest).Methods(http.MethodGet)

	r.HandleFunc("/{configuration}/catalog/movie/{id}/{extra}.json", s.catalog).Methods(http.MethodGet)
	r.HandleFunc("/{configuration}/catalog/movie/{id}.json", s.catalog).Methods(http.MethodGet)
	r.HandleFunc("/catalog/movie/{id}/{extra}.json", s.catalog).Methods(http.MethodGet)
	r.HandleFunc("/catalog/movie/{id}.json", s.catalog).Methods(http.MethodGet)

	r.HandleFunc("/{configuration}/meta/movie/{id}/{extra}.json", s.meta).Methods(http.MethodGet)
	r.HandleFunc("/{configuration}/meta/movie/{id}.json", s.meta).Methods(http.MethodGet)

	r.HandleFunc("/{configuration}/stream/movie/{id}/{extra}.json", s.stream).Methods(http.MethodGet)
	r.HandleFunc("/{configuration}/stream/movie/{id}.json", s.stream).Methods(http.MethodGet)

	r.Use(corsMiddleware, s.timeoutMiddleware, s.observeMiddleware)
	return r
}

// ListenAndServe 启动 HTTP 服务，ctx 取消后优雅退出。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("addon 已启动")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) manifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControl)
	respondJSON(w, http.StatusOK, NewManifest(""))
}

func (s *Server) configuredManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControl)
	p, ok := domain.ParsePartition(mux.Vars(r)["configuration"])
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid configuration")
		return
	}
	respondJSON(w, http.StatusOK, NewManifest(p))
}

// catalogPartition 接受 "hindi" 或 "hindimovies" 形式的目录 id。
func catalogPartition(id string) (domain.Partition, bool) {
	if p, ok := domain.ParsePartition(id); ok {
		return p, true
	}
	before, _, _ := strings.Cut(id, "movies")
	return domain.ParsePartition(before)
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControl)
	vars := mux.Vars(r)
	p, ok := catalogPartition(vars["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid catalog ID")
		return
	}

	var (
		items []domain.CatalogItem
		err   error
	)
	search := ""
	if extra := vars["extra"]; extra != "" {
		if q, perr := url.ParseQuery(extra); perr == nil {
			search = strings.TrimSpace(q.Get("search"))
		}
	}
	if search != "" {
		items, err = s.svc.Search(r.Context(), p, search)
	} else {
		items, err = s.svc.Catalog(r.Context(), p, 0)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}
	if s.posters != nil && s.rpdbKey != "" {
		items = s.posters.Apply(items, s.rpdbKey)
	}
	respondJSON(w, http.StatusOK, map[string]any{"metas": items})
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControl)
	vars := mux.Vars(r)
	m, err := s.svc.Meta(r.Context(), vars["id"], domain.Partition(strings.ToLower(vars["configuration"])))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if m == nil {
		respondJSON(w, http.StatusOK, map[string]any{"meta": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"meta": m})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControl)
	vars := mux.Vars(r)
	st, err := s.svc.Stream(r.Context(), vars["id"], domain.Partition(strings.ToLower(vars["configuration"])))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	streams := []domain.Stream{}
	if st != nil {
		streams = append(streams, *st)
	}
	respondJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

// fail 把错误映射为 HTTP 状态：非法输入 400，超时 504，其它 500。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := s.log.WithField("path", r.URL.Path).WithError(err)
	switch {
	case errors.Is(err, reconcile.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("请求超时")
		respondError(w, http.StatusGatewayTimeout, "Request timed out")
	default:
		log.Error("请求处理失败")
		respondError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
