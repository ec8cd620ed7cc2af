package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// RegisterAdmin registers operator endpoints under /v1/admin.  They enqueue
// the same jobs the scheduler runs, so triggering them by hand is safe.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/sweep", h.Sweep)
	g.POST("/reconcile", h.Reconcile)
	g.GET("/ticket-types/:id/ledger", h.Ledger)
}
