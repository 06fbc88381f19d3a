// Package gateway assembles the proxy: route registration, caller
// verification, tiered admission, per-upstream circuit breaking, response
// caching, and dispatch. Every stage keeps its state in process; a restart
// starts cold by design.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh/gateway/internal/config"
	"github.com/taskmesh/gateway/internal/gateway/auth"
	"github.com/taskmesh/gateway/internal/gateway/cache"
	"github.com/taskmesh/gateway/internal/gateway/circuitbreaker"
	"github.com/taskmesh/gateway/internal/gateway/metrics"
	"github.com/taskmesh/gateway/internal/gateway/ratelimit"
	"github.com/taskmesh/gateway/internal/gateway/transport"
)

// Server is the running gateway: a gin engine over the admission pipeline
// and the shared resilience state.
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	logger  *slog.Logger
	started time.Time

	verifier *auth.Verifier
	revoked  *auth.RevocationSet
	breakers *circuitbreaker.Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// NewServer wires every component from cfg and registers the routing table.
// cfg must already be validated; construction fails only on problems
// validation cannot see, such as an unreadable key file.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	revoked := auth.NewRevocationSet(cfg.Auth.MaxTokenLifetime)
	verifier, err := auth.NewVerifier(cfg.Auth, revoked)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker)
	limiter := ratelimit.New(cfg.RateLimit, breakers)
	store := cache.NewStore(cfg.Cache)

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	dispatcher, err := transport.NewDispatcher(client, cfg.Upstreams)
	if err != nil {
		return nil, err
	}

	// Breaker outermost so an open upstream rejects before cache and
	// dispatch are consulted; a cache hit inside a half-open probe is
	// served but never mistaken for upstream recovery.
	chain := transport.Chain(dispatcher,
		circuitbreaker.NewMiddleware(breakers),
		cache.NewMiddleware(store),
	)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)
	promRegistry.MustRegister(metrics.NewStatsCollector(breakers, limiter, store))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		started:  time.Now(),
		verifier: verifier,
		revoked:  revoked,
		breakers: breakers,
		limiter:  limiter,
		cache:    store,
		metrics:  m,
		registry: promRegistry,
	}

	p := &pipeline{
		chain:   chain,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}

	engine := gin.New()
	engine.Use(
		recoveryMiddleware(logger),
		correlationMiddleware(),
		loggingMiddleware(logger),
		metricsMiddleware(m),
	)
	engine.NoRoute(notFoundHandler())
	s.engine = engine
	s.setupRoutes(p)

	return s, nil
}

// setupRoutes registers the operational surface and the configured proxy
// allowlist. Each proxied route carries its own auth mode.
func (s *Server) setupRoutes(p *pipeline) {
	s.engine.GET("/healthz", s.handleHealth())

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	admin := s.engine.Group("/admin")
	admin.Use(authMiddleware(s.verifier, config.AuthRequired), requireAdmin())
	{
		admin.GET("/breakers", s.handleListBreakers())
		admin.POST("/breakers/:service/reset", s.handleResetBreaker())
		admin.POST("/cache/invalidate", s.handleInvalidateCache())
		admin.POST("/revocations", s.handleRevokeToken())
	}

	for _, route := range s.cfg.Routes {
		s.engine.Handle(route.Method, route.Path,
			authMiddleware(s.verifier, route.Auth),
			p.routeHandler(route),
		)
	}
}

// Handler exposes the engine for tests driving requests in memory.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is canceled, then drains in-flight requests within
// the configured shutdown window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("gateway listening",
		"addr", srv.Addr,
		"routes", len(s.cfg.Routes),
		"upstreams", len(s.cfg.Upstreams),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleHealth reports liveness. It never consults upstreams: the gateway is
// healthy when it can accept and route requests, independent of what the
// breakers currently think of each upstream.
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).Round(time.Second).String(),
			"breakers": s.breakers.Len(),
		})
	}
}
