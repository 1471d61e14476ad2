// @title Tenant Provisioning API
// @version 1.0.0
// @description Tenant onboarding and tenant-scoped lookup

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/auth"
	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/tenant"
)

// TokenVerifier turns a bearer token into an authenticated principal.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService *tenant.Service
	verifier      TokenVerifier
	auditLogger   audit.Logger
	health        HealthChecker
	adminRole     string
	now           func() time.Time
}

// Options configures optional Handler behavior.
type Options struct {
	// AdminRole is required to create tenants.
	AdminRole string
	// Health is pinged by /health when set.
	Health HealthChecker
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tenantService *tenant.Service,
	verifier TokenVerifier,
	auditLogger audit.Logger,
	opts Options,
) *Handler {
	if opts.AdminRole == "" {
		opts.AdminRole = "ADMIN"
	}
	return &Handler{
		tenantService: tenantService,
		verifier:      verifier,
		auditLogger:   auditLogger,
		health:        opts.Health,
		adminRole:     opts.AdminRole,
		now:           time.Now,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Route("/tenants", func(r chi.Router) {
			// Onboarding is a platform action; the caller's own tenant is irrelevant.
			r.With(h.RequireRole(h.adminRole)).Post("/", h.CreateTenant)

			r.With(h.RequireTenant).Get("/{tenantID}", h.GetTenant)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and its database reachable
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "provisioner",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "provisioner",
	})
}
