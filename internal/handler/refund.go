package handler

import (
    "net/http" // HTTP status codes

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // error logging

    "github.com/iliyamo/ticket-marketplace/internal/service" // refund processor
)

// RefundHandler serves buyer cancellations and organizer/admin refunds.
type RefundHandler struct {
    Refunds *service.RefundProcessor
    Log     *zap.Logger
}

// NewRefundHandler constructs a RefundHandler.
func NewRefundHandler(p *service.RefundProcessor, log *zap.Logger) *RefundHandler {
    if p == nil {
        panic("nil refund processor passed to NewRefundHandler")
    }
    return &RefundHandler{Refunds: p, Log: log}
}

type reverseReq struct {
    Reason string `json:"reason" validate:"max=255"`
}

// Cancel handles POST /v1/orders/:id/cancel for the buyer of the order.
func (h *RefundHandler) Cancel(c echo.Context) error {
    buyerID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req reverseReq
    if c.Request().ContentLength != 0 { // body is optional
        if ok, resp := bindAndValidate(c, &req); !ok {
            return resp
        }
    }
    out, err := h.Refunds.Cancel(c.Request().Context(), service.CancelRequest{
        OrderID: c.Param("id"),
        BuyerID: buyerID,
        Reason:  req.Reason,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"order": toOrderResp(out.Order), "refund": toRefundResp(out.Refund, out.Order.Currency)})
}

// Refund handles POST /v1/orders/:id/refund for the event's organizer or an
// admin.  Only full refunds exist.
func (h *RefundHandler) Refund(c echo.Context) error {
    actorID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req reverseReq
    if c.Request().ContentLength != 0 {
        if ok, resp := bindAndValidate(c, &req); !ok {
            return resp
        }
    }
    out, err := h.Refunds.Refund(c.Request().Context(), service.RefundRequest{
        OrderID:   c.Param("id"),
        ActorID:   actorID,
        ActorRole: getRole(c),
        Reason:    req.Reason,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"order": toOrderResp(out.Order), "refund": toRefundResp(out.Refund, out.Order.Currency)})
}
