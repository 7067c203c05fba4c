package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/metrics"
	"github.com/dgallion1/docaudit/internal/pipeline"
)

// Server is the HTTP API server for docaudit.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *extract.LLMStats
	metrics      *metrics.Metrics
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. stats and m may be nil.
func NewServer(orch *pipeline.Orchestrator, stats *extract.LLMStats, m *metrics.Metrics, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		metrics:      m,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.DocauditAPIKey, s.log))

		r.Post("/api/analyze", s.handleAnalyze)
		r.Route("/api/analyze/{jobID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/cancel", s.handleCancel)
			r.Get("/result", s.handleResult)
			r.Get("/export", s.handleExport)
		})
		r.Post("/api/map", s.handleMap)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
		"jobs":        s.orchestrator.JobCount(),
	})
}
