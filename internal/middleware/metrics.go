package middleware

import (
    "errors"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/ticket-marketplace/internal/observability"
)

// Metrics observes request latency per route and status class.
func Metrics() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            status := c.Response().Status
            var he *echo.HTTPError
            if errors.As(err, &he) {
                status = he.Code
            }
            route := c.Path()
            if route == "" {
                route = "unmatched"
            }
            observability.TrackHTTP(c.Request().Method, route, strconv.Itoa(status/100)+"xx", time.Since(start))
            return err
        }
    }
}
