package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the admin JSON API over the job queue.
type Server struct {
	queue    *client.JobQueue
	sites    store.SiteStore
	auth     *tokenAuth
	addr     string
	gatherer prometheus.Gatherer
	handlers *config.JobHandler
	logger   *zap.Logger
}

type ServerOption func(*Server)

func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithHandlers lets /api/pipeline report which stages have a handler in this process.
func WithHandlers(jh *config.JobHandler) ServerOption {
	return func(s *Server) { s.handlers = jh }
}

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l.Named("admin") }
}

func NewServer(queue *client.JobQueue, sites store.SiteStore, cfg config.AdminConfig, opts ...ServerOption) *Server {
	s := &Server{
		queue:    queue,
		sites:    sites,
		auth:     newTokenAuth(cfg.TokenHash),
		addr:     cfg.Addr,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router. /healthz and /metrics are open; everything under /api needs the bearer token.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.middleware)

		r.Get("/pipeline", s.handlePipeline)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Get("/stats", s.handleStats)
			r.Get("/dead", s.handleDeadJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Delete("/{jobID}", s.handleDelete)
			r.Post("/{jobID}/retry", s.handleRetry)
			r.Post("/{jobID}/requeue", s.handleRequeue)
		})

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/jobs", s.handleTenantJobs)
			r.Post("/rebuild", s.handleRebuild)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
