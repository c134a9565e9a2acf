// Package worker provides the HTTP service of the popularity worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thebtf/lesson-popularity/internal/db"
	"github.com/thebtf/lesson-popularity/internal/db/gorm"
	"github.com/thebtf/lesson-popularity/internal/scoring"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second

	// MaxRequestBodySize caps request bodies; no endpoint accepts a large payload.
	MaxRequestBodySize = 64 * 1024
)

// PipelineController is the subset of the pipeline exposed over HTTP.
type PipelineController interface {
	TryStart(ctx context.Context, trigger string) bool
	GetStats() scoring.Stats
}

// NextRunProvider reports the next scheduled run.
type NextRunProvider interface {
	NextRun() time.Time
}

// DatabaseHealth reports database health.
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// Options configures a Service.
type Options struct {
	Pipeline        PipelineController
	Lessons         db.LessonReader
	Database        DatabaseHealth
	Schedule        NextRunProvider // optional
	Logger          zerolog.Logger
	Version         string
	Port            int
	ShutdownTimeout time.Duration
}

// Service serves the operational HTTP API.
type Service struct {
	startTime       time.Time
	pipeline        PipelineController
	lessons         db.LessonReader
	database        DatabaseHealth
	schedule        NextRunProvider
	router          *chi.Mux
	server          *http.Server
	log             zerolog.Logger
	version         string
	shutdownTimeout time.Duration
}

// NewService creates the HTTP service and its routes.
func NewService(opts Options) *Service {
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	s := &Service{
		version:         opts.Version,
		pipeline:        opts.Pipeline,
		lessons:         opts.Lessons,
		database:        opts.Database,
		schedule:        opts.Schedule,
		router:          chi.NewRouter(),
		startTime:       time.Now(),
		shutdownTimeout: shutdownTimeout,
		log:             opts.Logger.With().Str("component", "http").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBodySize))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Liveness, returns version for deploy checks
	s.router.Get("/health", s.handleHealth)

	// Readiness: database reachable
	s.router.Get("/api/ready", s.handleReady)

	s.router.Route("/api/popularity", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/run", s.handleRun)
	})

	s.router.Get("/api/lessons/popular", s.handlePopularLessons)

	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve implements suture.Service. It listens until ctx is canceled and then
// shuts down gracefully.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		s.log.Info().Msg("HTTP server stopped")
		return ctx.Err()
	}
}

// String implements fmt.Stringer for logging.
func (s *Service) String() string {
	return "http-server"
}
