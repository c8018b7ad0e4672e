// Package api is the HTTP edge: job submission and inspection, campaign
// management, webhook intake, DLQ administration, health and metrics.
// Handlers translate between HTTP and the core runtime; no business
// logic lives here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/outreach-engine/internal/core"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Server serves the HTTP edge over a constructed runtime.
type Server struct {
	rt       *core.Runtime
	router   *chi.Mux
	server   *http.Server
	validate *validator.Validate
}

// NewServer builds the router and handlers.
func NewServer(rt *core.Runtime) *Server {
	s := &Server{
		rt:       rt,
		validate: validator.New(),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	// Reject everything except health and metrics once draining.
	r.Use(s.drainGuard)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/{type}", s.handleEnqueueJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleJobStatus)
		r.Delete("/{id}", s.handleCancelJob)
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Post("/", s.handleCreateInstance)
		r.Get("/", s.handleListInstances)
		r.Get("/{id}", s.handleGetInstance)
		r.Post("/{id}/activate", s.transitionHandler("activate"))
		r.Post("/{id}/pause", s.transitionHandler("pause"))
		r.Post("/{id}/resume", s.transitionHandler("resume"))
		r.Post("/{id}/cancel", s.transitionHandler("cancel"))
		r.Post("/{id}/enrol", s.handleEnrol)
		r.Get("/{id}/stats", s.handleCampaignStats)
	})

	r.Post("/webhooks/{provider}", s.handleWebhook)

	r.Route("/admin/dlq", func(r chi.Router) {
		r.Get("/", s.handleListDLQ)
		r.Post("/{id}/replay", s.handleReplayDLQ)
		r.Post("/{id}/discard", s.handleDiscardDLQ)
	})

	return r
}

// drainGuard returns 503 for mutating traffic once shutdown has begun.
// Health stays reachable so orchestrators can watch the drain.
func (s *Server) drainGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rt.Draining() && r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			httputil.FromTaxonomy(w, reliability.ErrShutdownInProgress)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Close shuts the HTTP listener down within the deadline.
func (s *Server) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.rt.Health(r.Context())
	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, report)
}

// decodeValid decodes JSON into dst and runs struct validation.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !httputil.Decode(w, r, dst) {
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}
