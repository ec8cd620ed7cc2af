package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// RegisterCustomer registers checkout endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role.  guard runs on every mutating
// route after authentication (checkout rate limit, then idempotency), so the
// user id is already known when keys are built.
func RegisterCustomer(e *echo.Echo, h *handler.CheckoutHandler, r *handler.RefundHandler, jwtSecret string, guard ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer),
	)
	// holds
	g.POST("/reservations", h.Hold, guard...)
	g.GET("/reservations/:id", h.GetReservation)
	g.DELETE("/reservations/:id", h.ReleaseReservation, guard...)

	// orders
	g.POST("/orders/confirm", h.Confirm, guard...)
	g.GET("/orders", h.ListOrders)
	g.GET("/orders/:id", h.GetOrder)
	g.POST("/orders/:id/cancel", r.Cancel, guard...)
}
