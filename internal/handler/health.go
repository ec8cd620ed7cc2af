package handler // declare the package name; contains HTTP handlers

import (
    "context"  // bounded dependency checks
    "net/http" // net/http provides status codes and response helpers
    "time"     // check timeout

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Pinger is anything whose reachability gates readiness (*sql.DB, a Redis
// client adapter).
type Pinger interface {
    PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext implements Pinger.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthHandler reports liveness and readiness.
type HealthHandler struct {
    Checks map[string]Pinger // dependency name -> check
}

// NewHealthHandler returns a handler that checks every entry of checks.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
    return &HealthHandler{Checks: checks}
}

// Health is a simple liveness endpoint used by load balancers.  It returns a
// plain text "ok" message with an HTTP 200 status code.
func (h *HealthHandler) Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok") // String writes plain text
}

// Ready pings every dependency and returns 503 naming the ones that failed.
func (h *HealthHandler) Ready(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()
    status := http.StatusOK
    out := make(map[string]string, len(h.Checks))
    for name, p := range h.Checks {
        if p == nil {
            continue // optional dependency not configured
        }
        if err := p.PingContext(ctx); err != nil {
            out[name] = err.Error()
            status = http.StatusServiceUnavailable
            continue
        }
        out[name] = "ok"
    }
    return c.JSON(status, echo.Map{"checks": out})
}
