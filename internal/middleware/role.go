package middleware // role checks run after JWTAuth

import (
    "net/http" // status codes

    "github.com/labstack/echo/v4" // middleware chaining and context
)

// RequireRole lets a request through only when the "role" value set by
// JWTAuth is one of roles; everything else gets 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]struct{}, len(roles)) // set of accepted roles
    for _, r := range roles {
        allowed[r] = struct{}{}
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role, _ := c.Get("role").(string) // missing or mistyped role is treated as empty
            if _, ok := allowed[role]; !ok {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
