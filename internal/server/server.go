// Package server provides the HTTP server and routing for Frontier.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/di"
	allocationhandlers "github.com/aristath/frontier/internal/modules/allocation/handlers"
	covariancehandlers "github.com/aristath/frontier/internal/modules/covariance/handlers"
	optimizationhandlers "github.com/aristath/frontier/internal/modules/optimization/handlers"
	snapshothandlers "github.com/aristath/frontier/internal/modules/snapshot/handlers"
	universehandlers "github.com/aristath/frontier/internal/modules/universe/handlers"
	"github.com/aristath/frontier/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DataDir   string
	Container *di.Container // DI container with all services
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		container: cfg.Container,
	}

	var jobs map[string]scheduler.Job
	if cfg.Container.Jobs != nil {
		jobs = cfg.Container.Jobs.All()
	}
	s.systemHandlers = NewSystemHandlers(
		cfg.Container.Snapshots,
		cfg.Container.Databases(),
		cfg.Container.Scheduler,
		jobs,
		cfg.DataDir,
		cfg.Log,
	)

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(devMode bool) {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event stream stays outside the request timeout
		eventsStream := NewEventsStreamHandler(s.container.EventBus, s.log)
		r.Get("/events", eventsStream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Minute))
			if !devMode {
				r.Use(middleware.Compress(5))
			}

			r.Get("/health", s.handleHealth)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
				r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
			})

			universehandlers.NewUniverseHandlers(
				s.container.History,
				s.container.ForecastService,
				s.container.Scorer,
				s.container.ForwardDays,
				s.container.Confidence,
				s.log,
			).RegisterRoutes(r)

			snapshothandlers.NewHandler(s.container.Snapshots, s.log).RegisterRoutes(r)

			covariancehandlers.NewHandler(s.container.Snapshots, s.container.Estimator, s.log).RegisterRoutes(r)

			optimizationhandlers.NewHandler(s.container.Optimizer, s.container.Snapshots, s.log).RegisterRoutes(r)

			allocationhandlers.NewHandler(
				s.container.Allocator,
				s.container.History,
				s.container.Recommendations,
				s.log,
			).RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
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
			Msg("HTTP request")
	})
}
