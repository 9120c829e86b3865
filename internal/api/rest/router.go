package rest

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docflowhq/docflow/internal/api/rest/handlers"
	customMiddleware "github.com/docflowhq/docflow/internal/api/rest/middleware"
	"github.com/docflowhq/docflow/pkg/auth"
	"github.com/docflowhq/docflow/pkg/config"
	"github.com/docflowhq/docflow/pkg/logger"
	"github.com/docflowhq/docflow/pkg/metrics"
)

// Router holds the HTTP router and dependencies
type Router struct {
	router     *chi.Mux
	logger     *logger.Logger
	handlers   *handlers.Handlers
	jwtManager *auth.JWTManager
	cfg        *config.Config
	metrics    *metrics.Metrics
}

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, jwtManager *auth.JWTManager, cfg *config.Config, m *metrics.Metrics) *Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(customMiddleware.Metrics(m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS - Configure allowed origins from environment
	allowedOrigins := []string{"http://localhost:3000"}
	if originsEnv := os.Getenv("ALLOWED_ORIGINS"); originsEnv != "" {
		allowedOrigins = strings.Split(originsEnv, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}

	// Never allow "*" with credentials enabled
	allowCredentials := true
	for _, origin := range allowedOrigins {
		if origin == "*" {
			log.Warn("CORS: Wildcard origin '*' detected with credentials enabled. Disabling credentials.")
			allowCredentials = false
			break
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	return &Router{
		router:     r,
		logger:     log,
		handlers:   h,
		jwtManager: jwtManager,
		cfg:        cfg,
		metrics:    m,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Health endpoints (no auth required)
	r.router.Get("/health", r.handlers.Health.Health)
	r.router.Get("/ready", r.handlers.Health.Ready)

	// Prometheus metrics endpoint (no auth required)
	r.router.Handle("/metrics", promhttp.Handler())

	// API v1
	r.router.Route("/api/v1", func(router chi.Router) {
		// Protected routes (require authentication)
		router.Group(func(router chi.Router) {
			router.Use(customMiddleware.JWTAuth(r.jwtManager, r.logger))
			router.Use(customMiddleware.RateLimitWithConfig(r.cfg.Server.RateLimitRPS, r.cfg.Server.RateLimitBurst, r.logger))

			// Workflows
			router.Route("/workflows", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("workflow:read", r.logger)).Get("/", r.handlers.Workflow.List)
				router.With(customMiddleware.RequirePermission("workflow:read", r.logger)).Get("/{id}", r.handlers.Workflow.Get)

				router.With(customMiddleware.RequirePermission("workflow:create", r.logger)).Post("/", r.handlers.Workflow.Create)
				router.With(customMiddleware.RequirePermission("workflow:create", r.logger)).Post("/validate", r.handlers.Workflow.Validate)
				router.With(customMiddleware.RequirePermission("workflow:update", r.logger)).Put("/{id}", r.handlers.Workflow.Update)
				router.With(customMiddleware.RequirePermission("workflow:update", r.logger)).Post("/{id}/enable", r.handlers.Workflow.Enable)
				router.With(customMiddleware.RequirePermission("workflow:update", r.logger)).Post("/{id}/disable", r.handlers.Workflow.Disable)
			})

			// Events
			router.Route("/events", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("event:create", r.logger)).Post("/", r.handlers.Event.CreateEvent)
			})

			// Executions
			router.Route("/executions", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("execution:read", r.logger)).Get("/", r.handlers.Execution.ListExecutions)
				router.With(customMiddleware.RequirePermission("execution:read", r.logger)).Get("/{id}", r.handlers.Execution.GetExecution)

				router.With(customMiddleware.RequirePermission("execution:cancel", r.logger)).Post("/{id}/cancel", r.handlers.Execution.CancelExecution)
				router.With(customMiddleware.RequirePermission("execution:restart", r.logger)).Post("/{id}/restart", r.handlers.Execution.RestartExecution)
				router.With(customMiddleware.RequirePermission("execution:update", r.logger)).Post("/{id}/steps/{step_execution_id}/release", r.handlers.Execution.ReleaseWait)
			})

			// Approvals
			router.Route("/approvals", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("approval:read", r.logger)).Get("/", r.handlers.Approval.ListPending)
				router.With(customMiddleware.RequirePermission("approval:read", r.logger)).Get("/{id}", r.handlers.Approval.GetApproval)
				router.With(customMiddleware.RequirePermission("approval:decide", r.logger)).Post("/{step_execution_id}/approve", r.handlers.Approval.Approve)
				router.With(customMiddleware.RequirePermission("approval:decide", r.logger)).Post("/{step_execution_id}/reject", r.handlers.Approval.Reject)
			})

			// State model definitions
			router.Route("/models/{model_type}", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("state:read", r.logger)).Get("/states", r.handlers.Transition.ListStates)
				router.With(customMiddleware.RequirePermission("state:read", r.logger)).Get("/transitions", r.handlers.Transition.ListTransitionDefinitions)
			})
			router.With(customMiddleware.RequirePermission("state:manage", r.logger)).Post("/states", r.handlers.Transition.CreateState)
			router.With(customMiddleware.RequirePermission("state:manage", r.logger)).Post("/transitions", r.handlers.Transition.CreateTransition)

			// Entity transitions
			router.Route("/entities/{model_type}/{entity_id}", func(router chi.Router) {
				router.With(customMiddleware.RequirePermission("transition:read", r.logger)).Get("/transitions", r.handlers.Transition.ListAvailable)
				router.With(customMiddleware.RequirePermission("transition:execute", r.logger)).Post("/transitions/{name}", r.handlers.Transition.Execute)
				router.With(customMiddleware.RequirePermission("transition:read", r.logger)).Get("/history", r.handlers.Transition.History)
			})
		})
	})
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.router
}
