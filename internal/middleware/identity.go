package middleware

// identity.go resolves the caller for keys built by the rate limiter and
// the idempotency store.  JWTAuth stores the numeric subject claim under
// "user_id"; unauthenticated requests are keyed as "guest".

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// userID renders the authenticated user id stored by JWTAuth.
func userID(c echo.Context) string {
    switch v := c.Get("user_id").(type) {
    case uint64:
        return strconv.FormatUint(v, 10)
    case float64:
        return strconv.FormatUint(uint64(v), 10)
    case int:
        return strconv.Itoa(v)
    case string:
        if v != "" {
            return v
        }
    }
    return "guest"
}
