package handler

import (
    "net/http" // HTTP status codes
    "strings"  // header trimming

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // error logging

    "github.com/iliyamo/ticket-marketplace/internal/model"   // order states
    "github.com/iliyamo/ticket-marketplace/internal/service" // checkout workflow
)

// CheckoutHandler exposes holds and order confirmation to customers.  All
// methods assume JWTAuth and RequireRole(CUSTOMER) already ran, and that
// the idempotency middleware guards the mutating routes.
type CheckoutHandler struct {
    Reservations *service.ReservationManager // hold state machine
    Coordinator  *service.Coordinator        // reserve -> charge -> commit
    Log          *zap.Logger
    KeyHeader    string // header carrying the client idempotency key
}

// NewCheckoutHandler constructs a CheckoutHandler.  Both services are required.
func NewCheckoutHandler(res *service.ReservationManager, coord *service.Coordinator, log *zap.Logger) *CheckoutHandler {
    if res == nil || coord == nil {
        panic("nil service passed to NewCheckoutHandler")
    }
    return &CheckoutHandler{Reservations: res, Coordinator: coord, Log: log, KeyHeader: "Idempotency-Key"}
}

type holdReq struct {
    TicketTypeID uint64 `json:"ticket_type_id" validate:"required,gt=0"`
    Quantity     int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// Hold handles POST /v1/reservations.  The client key makes the hold
// idempotent at the service level too, so a replay after the middleware's
// record has expired still returns the original reservation.
func (h *CheckoutHandler) Hold(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req holdReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    key := strings.TrimSpace(c.Request().Header.Get(h.KeyHeader))
    if key == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "idempotency_key_required"})
    }
    res, err := h.Reservations.Hold(c.Request().Context(), service.HoldRequest{
        BuyerID:        buyerID,
        TicketTypeID:   req.TicketTypeID,
        Quantity:       req.Quantity,
        IdempotencyKey: key,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, toReservationResp(res))
}

// GetReservation handles GET /v1/reservations/:id.  Reading an expired
// hold expires it.
func (h *CheckoutHandler) GetReservation(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    res, err := h.Reservations.Get(c.Request().Context(), buyerID, c.Param("id"))
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toReservationResp(res))
}

// ReleaseReservation handles DELETE /v1/reservations/:id.
func (h *CheckoutHandler) ReleaseReservation(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    res, err := h.Reservations.Release(c.Request().Context(), buyerID, c.Param("id"))
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toReservationResp(res))
}

type confirmReq struct {
    ReservationID string `json:"reservation_id" validate:"required,uuid"`
    PaymentMethod string `json:"payment_method" validate:"required,max=255"`
}

// Confirm handles POST /v1/orders/confirm.  A PAID order returns 200; a
// charge still processing at the provider returns 202 with the PENDING
// order, which the webhook or reconciliation completes later.
func (h *CheckoutHandler) Confirm(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req confirmReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    ord, err := h.Coordinator.Confirm(c.Request().Context(), service.ConfirmRequest{
        BuyerID:       buyerID,
        ReservationID: req.ReservationID,
        PaymentMethod: req.PaymentMethod,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    if ord.State == model.OrderPending {
        return c.JSON(http.StatusAccepted, toOrderResp(ord))
    }
    return c.JSON(http.StatusOK, toOrderResp(ord))
}

// ListOrders handles GET /v1/orders.
func (h *CheckoutHandler) ListOrders(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    limit, offset := paging(c)
    list, err := h.Coordinator.ListOrders(c.Request().Context(), buyerID, limit, offset)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"orders": toOrderList(list), "limit": limit, "offset": offset})
}

// GetOrder handles GET /v1/orders/:id.
func (h *CheckoutHandler) GetOrder(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ord, err := h.Coordinator.GetOrder(c.Request().Context(), buyerID, c.Param("id"))
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toOrderResp(ord))
}
