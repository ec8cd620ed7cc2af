package handler // handler defines http handlers

import (
    "errors"   // errors.Is/As drive the status mapping
    "net/http" // status codes
    "strconv"  // strconv converts strings to numeric types

    "github.com/labstack/echo/v4" // echo defines request context types
    "go.uber.org/zap"             // structured logging of unexpected failures

    "github.com/iliyamo/ticket-marketplace/internal/repository" // sentinel store errors
    "github.com/iliyamo/ticket-marketplace/internal/service"    // checkout error taxonomy
)

const maxPage = 100

// getUserID extracts the user_id from echo.Context and converts it to uint64
func getUserID(c echo.Context) (uint64, error) { // begin getUserID helper
    switch t := c.Get("user_id").(type) { // perform type switch on the value
    case uint64: // set by JWTAuth
        return t, nil
    case int: // when stored as int (tests)
        return uint64(t), nil
    case float64: // raw JWT numeric claim
        return uint64(t), nil
    case string: // when stored as string
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, errors.New("invalid user_id in context") // value missing or invalid
}

// getRole returns the role claim placed in the context by JWTAuth.
func getRole(c echo.Context) string {
    r, _ := c.Get("role").(string)
    return r
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// paging reads limit/offset query parameters with sane bounds.
func paging(c echo.Context) (limit, offset int) {
    limit, _ = strconv.Atoi(c.QueryParam("limit"))
    offset, _ = strconv.Atoi(c.QueryParam("offset"))
    if limit <= 0 || limit > maxPage {
        limit = 20
    }
    if offset < 0 {
        offset = 0
    }
    return limit, offset
}

// writeError maps service and repository errors onto HTTP responses.  It is
// the only place where the error taxonomy meets status codes.
func writeError(c echo.Context, log *zap.Logger, err error) error {
    var de *service.DeclineError
    switch {
    case errors.Is(err, service.ErrCapacityExceeded): // sold out is an expected outcome
        return c.JSON(http.StatusConflict, echo.Map{"error": "sold_out"})
    case errors.Is(err, service.ErrReservationExpired):
        return c.JSON(http.StatusGone, echo.Map{"error": "reservation_expired", "message": err.Error()})
    case errors.As(err, &de): // decline message is safe to show the customer
        return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment_declined", "code": de.Code, "message": de.Message})
    case errors.Is(err, service.ErrPaymentDeclined):
        return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment_declined"})
    case errors.Is(err, service.ErrPaymentProviderUnavailable): // order stays PENDING; client may retry with the same key
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment_provider_unavailable"})
    case errors.Is(err, service.ErrReconciliationConflict): // charge is being refunded; alert already logged
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reconciliation_conflict"})
    case errors.Is(err, service.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
    case errors.Is(err, service.ErrForbidden):
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    case errors.Is(err, service.ErrInvalidState), errors.Is(err, repository.ErrStaleState), errors.Is(err, repository.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_state", "message": err.Error()})
    case errors.Is(err, service.ErrValidation):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed", "message": err.Error()})
    case errors.Is(err, service.ErrIdempotencyMismatch):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "idempotency_key_reused"})
    }
    if log != nil {
        log.Error("request failed", zap.String("route", c.Path()), zap.Error(err))
    }
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
