package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"                             // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp" // exposition handler for /metrics

	"github.com/iliyamo/ticket-marketplace/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/ticket-marketplace/internal/middleware" // import middleware for JWT authentication and role enforcement
	"github.com/iliyamo/ticket-marketplace/internal/model"      // role names
)

// RegisterRoutes registers routes that do not require authentication and
// are not versioned: liveness, readiness and the Prometheus scrape target.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	// Liveness for load balancers; never touches dependencies.
	e.GET("/healthz", h.Health)
	// Readiness pings the store and Redis.
	e.GET("/readyz", h.Ready)
	// Prometheus metrics registered through promauto.
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers all authentication-related routes and their
// middleware.  Unauthenticated operations live under /v1/auth, while /v1/me
// requires a valid access token of any role.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Operations that do not require an existing session.
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts a refresh token in the body or a bearer token.
	g.POST("/logout", a.Logout)

	// Any authenticated role may read its own account.
	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer, model.RoleOrganizer, model.RoleAdmin),
	)
}

// RegisterPublic registers unauthenticated browse endpoints.  cache is the
// Redis response cache; it is applied per route so that it never sees
// authenticated traffic.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	// Published events, with ?q= title search and paging.
	e.GET("/v1/events", p.ListEvents, cache)
	// One published event with its ticket types and availability.
	e.GET("/v1/events/:id", p.GetEvent, cache)
	// Live counters of a ticket type.
	e.GET("/v1/ticket-types/:id/availability", p.Availability, cache)
}

// RegisterWebhooks mounts the payment provider callback.  It carries no JWT;
// the handler verifies the provider signature instead.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payments", w.Payments)
}
