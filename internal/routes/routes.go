package routes

import (
	"github.com/BradenHooton/fleetgate/internal/auth"
	"github.com/BradenHooton/fleetgate/internal/handlers"
	"github.com/BradenHooton/fleetgate/internal/metrics"
	"github.com/BradenHooton/fleetgate/internal/middleware"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	registrationHandler *handlers.RegistrationHandler,
	securityHandler *handlers.SecurityHandler,
	tokenManager *auth.TokenManager,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		// Public: the gate does its own per-source accounting behind this coarse limit
		r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/devices/register", registrationHandler.Register)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager))
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/security/statistics", securityHandler.GetStatistics)
			r.Get("/security/status", securityHandler.GetStatus)
			r.Get("/security/blocks", securityHandler.ListBlocks)
			r.Get("/security/events", securityHandler.ListEvents)
			r.Post("/security/block", securityHandler.Block)
			r.Post("/security/unblock", securityHandler.Unblock)
		})
	})
}
