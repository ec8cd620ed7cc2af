package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-marketplace/internal/handler"    // organizer handlers
	"github.com/iliyamo/ticket-marketplace/internal/middleware" // JWT + role middlewares
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// RegisterOrganizer registers ORGANIZER-scoped endpoints under
// /v1/organizer.  All routes require a valid JWT and the ORGANIZER role.
func RegisterOrganizer(e *echo.Echo, o *handler.OrganizerHandler, jwtSecret string, guard ...echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/organizer",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOrganizer),
	)

	// ---- Events ----
	g.POST("/events", o.CreateEvent, guard...)
	g.GET("/events", o.ListEvents)
	g.PATCH("/events/:id", o.UpdateEvent, guard...)
	g.PUT("/events/:id", o.UpdateEvent, guard...) // alias for clients that use PUT
	g.POST("/events/:id/publish", o.Publish, guard...)
	g.POST("/events/:id/archive", o.Archive, guard...)
	g.POST("/events/:id/cancel", o.Cancel, guard...)
	g.GET("/events/:id/orders", o.EventOrders)

	// ---- Ticket types ----
	g.POST("/events/:id/ticket-types", o.AddTicketType, guard...)
	g.PATCH("/ticket-types/:id", o.ResizeTicketType, guard...)
}

// RegisterRefunds mounts the refund endpoint, open to the organizer of the
// order's event and to admins.  Ownership is checked by the refund processor.
func RegisterRefunds(e *echo.Echo, r *handler.RefundHandler, jwtSecret string, guard ...echo.MiddlewareFunc) {
	mws := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOrganizer, model.RoleAdmin),
	}, guard...)
	e.POST("/v1/orders/:id/refund", r.Refund, mws...)
}
