package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/eligibility"
	"github.com/clinical-go/thrombocalc/internal/search"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, cat *catalog.Catalog, searchEngine *search.Engine, eligEngine *eligibility.Engine, processor *consult.Processor, version string) *Server {
	handler := NewHandler(repo, cache, bus, cat, searchEngine, eligEngine, processor, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no clinic required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (clinic required)
	router.Route("/", func(r chi.Router) {
		r.Use(ClinicMiddleware)

		// Free-text catalog search
		r.Post("/search", handler.Search)

		// Catalog browsing and evaluation
		r.Get("/recommendations", handler.ListRecommendations)
		r.Get("/recommendations/{id}", handler.GetRecommendation)
		r.Post("/recommendations/{id}/evaluate", handler.Evaluate)

		// Consult retrieval
		r.Get("/consults", handler.ListConsults)
		r.Get("/consults/{id}", handler.GetConsult)

		// Catalog-wide agreement report
		r.Get("/agreement", handler.Agreement)

		// Eligibility rule management
		r.Get("/eligibility", handler.ListEligibilityRules)
		r.Get("/eligibility/{id}", handler.GetEligibilityRule)
		r.Post("/eligibility", handler.CreateEligibilityRule)
		r.Delete("/eligibility/{id}", handler.DeleteEligibilityRule)
		r.Post("/eligibility/reload", handler.ReloadEligibilityRules)
		r.Post("/eligibility/evaluate", handler.EvaluatePatient)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
