package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/api/http/cache"
	"github.com/rexbrahh/amm-arb/observability"
	"github.com/rexbrahh/amm-arb/pool"
)

// Server bundles dependencies for the HTTP API.
type Server struct {
	router  *chi.Mux
	cache   *cache.Cache
	logger  *zap.Logger
	started  time.Time
	now      func() time.Time
	requests *prometheus.CounterVec
}

// NewServer constructs a Server with registered routes. Request counts are
// registered on reg and served at /metrics.
func NewServer(cacheClient *cache.Cache, logger *zap.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		router:  chi.NewRouter(),
		cache:   cacheClient,
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Name:      observability.MetricAPIRequestsTotal,
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.countRequests)
	s.router.Get("/healthz", s.healthzHandler)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/opportunities", s.opportunitiesHandler)
		r.Get("/pool/{id}", s.poolHandler)
	})

	return s
}

// Handler exposes the underlying router for integration tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Millisecond).String(),
		Cache:  "disabled",
	}
	if s.cache.Enabled() {
		resp.Cache = "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Cache = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) opportunitiesHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrInvalidLimit.Error()})
			return
		}
		limit = n
	}

	scan, err := s.cache.GetScan(r.Context())
	if err != nil {
		s.writeCacheError(w, err)
		return
	}

	opps := scan.Opportunities
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}
	writeJSON(w, http.StatusOK, OpportunitiesResponse{
		ScannedAt:     scan.ScannedAt,
		Age:           s.now().Sub(scan.ScannedAt).Round(time.Millisecond).String(),
		Count:         len(opps),
		Opportunities: opps,
	})
}

func (s *Server) poolHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	addr, err := pool.ParseAddress(id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	snap, err := s.cache.GetPool(r.Context(), addr.String())
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPoolResponse(snap))
}

func (s *Server) writeCacheError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, cache.ErrDisabled):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("cache get failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := cache.LoadConfigFromEnv()
	if err != nil {
		logger.Fatal("load redis config", zap.Error(err))
	}

	cacheClient, err := cache.New(cfg)
	if err != nil {
		logger.Fatal("init redis cache", zap.Error(err))
	}
	defer cacheClient.Close()
	if !cfg.Enabled {
		logger.Warn("redis cache disabled: ARB_REDIS_ADDR not set")
	}

	server := NewServer(cacheClient, logger.Named("api"), observability.NewRegistry())

	addr := os.Getenv("ARB_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
