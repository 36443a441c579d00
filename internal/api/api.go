// Package api is the bearer-authenticated HTTP surface exposing
// submit/poll/report/status/health, built on chi the way the retrieved
// xentoshi-lake handlers and the pack's gateway services route and mount
// their handlers.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/coriolislabs/mcs/internal/planner"
	"github.com/coriolislabs/mcs/internal/platform/resilience"
	"github.com/coriolislabs/mcs/internal/resulthandler"
	"github.com/coriolislabs/mcs/internal/scheduler"
	"github.com/coriolislabs/mcs/internal/store"
)

// Server holds the dependencies the HTTP handlers need.
type Server struct {
	db          store.Store
	planner     *planner.Planner
	sched       *scheduler.Scheduler
	results     *resulthandler.Handler
	roles       map[string]bool
	authToken   string
	log         *slog.Logger
	rateLimiter *resilience.RateLimiter
}

// New constructs a Server. Call Router to obtain the http.Handler to serve.
// The worker poll/report/submit surface shares one bearer token, so a single
// process-wide rate limiter (not per-key) bounds the whole worker fleet —
// burst capacity 200, refill 200/min, hard cap 600 requests per minute.
func New(db store.Store, p *planner.Planner, sched *scheduler.Scheduler, results *resulthandler.Handler, roles map[string]bool, authToken string, log *slog.Logger) *Server {
	return &Server{
		db:          db,
		planner:     p,
		sched:       sched,
		results:     results,
		roles:       roles,
		authToken:   authToken,
		log:         log,
		rateLimiter: resilience.NewRateLimiter(200, 200.0/60, time.Minute, 600),
	}
}

// Router builds the chi mux with the full middleware chain and route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.slogMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/readiness", s.handleReadiness)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Use(s.rateLimit)
		r.Post("/v1/tasks", s.handleSubmit)
		r.Get("/v1/tasks/ready", s.handlePoll)
		r.Post("/v1/results", s.handleReport)
		r.Get("/v1/workflows/{id}/status", s.handleWorkflowStatus)
		r.Get("/v1/workflows/{id}", s.handleGetWorkflow)
		r.Get("/v1/locks", s.handleListLocks)
		r.Post("/v1/tasks/{workflow_id}/{step_id}/release", s.handleReleaseClaim)
	})

	return r
}
