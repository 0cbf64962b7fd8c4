// Package api serves the HTTP monitoring surface: read-only visibility
// into request history, worker status, metrics, and service
// configuration, plus a cleanup trigger and a service_config upsert
// endpoint. It depends on the store and metrics collector (and
// optionally the cache, for an availability flag, and a JobReporter for
// scheduled-job history) — never on the broker or worker packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tacoreservice/internal/cache"
	"github.com/aristath/tacoreservice/internal/metrics"
	"github.com/aristath/tacoreservice/internal/scheduler"
	"github.com/aristath/tacoreservice/internal/store"
)

// JobReporter reports background-job run history for the status
// endpoint; satisfied by *scheduler.Scheduler.
type JobReporter interface {
	Statuses() []scheduler.JobStatus
}

// Version is the service version reported by the health and status
// endpoints.
const Version = "1.0.0"

// Config configures a Server.
type Config struct {
	ServiceName string
	Host        string
	Port        int
	Log         zerolog.Logger
	Store       *store.Store
	Collector   *metrics.Collector
	Cache       *cache.Cache // nil, or a noop Cache, both mean no cache configured
	Jobs        JobReporter  // nil means no scheduled jobs to report
	DevMode     bool
}

// Server is the monitoring HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	serviceName string
	port        int
	startedAt   time.Time

	store     *store.Store
	collector *metrics.Collector
	cache     *cache.Cache
	jobs      JobReporter
}

// New builds a Server with routes and middleware wired.
func New(cfg Config) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "TACoreService"
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "api").Logger(),
		serviceName: cfg.ServiceName,
		port:        cfg.Port,
		startedAt:   time.Now(),
		store:       cfg.Store,
		collector:   cfg.Collector,
		cache:       cfg.Cache,
		jobs:        cfg.Jobs,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/live", s.handleLive)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/workers", s.handleWorkers)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/stream", s.handleMetricsStream)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{request_id}", s.handleGetRequest)
		r.Get("/stats", s.handleStats)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config/{key}", s.handlePutConfig)
	})
}

// Start runs the HTTP server until it is shut down or fails.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting monitoring API")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down monitoring API")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
