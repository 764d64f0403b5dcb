package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/checkpoint-service/internal/api/http/handlers"
	"github.com/spec-kit/checkpoint-service/internal/auth"
	"github.com/spec-kit/checkpoint-service/internal/domain"
	"github.com/spec-kit/checkpoint-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Credentials    *handlers.CredentialsHandler
	Verification   *handlers.VerificationHandler
	Attendance     *handlers.AttendanceHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api", cfg.AuthMiddleware.Handle)

	// Role checks are attached per route; a middleware on an empty-prefix
	// group would apply to every /api route.
	employee := auth.RequireRole(domain.RoleEmployee)
	scanner := auth.RequireRole(domain.RoleScanner)

	api.Post("/credentials", employee, cfg.Credentials.Issue)
	api.Post("/credentials/redeem", scanner, cfg.Credentials.Redeem)

	api.Post("/verification/scores", scanner, cfg.Verification.SubmitScore)
	api.Get("/verification/sessions/:subjectID", scanner, cfg.Verification.GetSession)
	api.Delete("/verification/sessions/:subjectID", scanner, cfg.Verification.CancelSession)

	api.Get("/attendance/records", scanner, cfg.Attendance.List)
	api.Get("/attendance/stats", scanner, cfg.Attendance.Stats)
}
