package handler

import (
    "errors"   // errors.Is for signature failures
    "io"       // bounded body read
    "net/http" // HTTP status codes

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // structured logging

    "github.com/iliyamo/ticket-marketplace/internal/payment" // provider webhook parsing
    "github.com/iliyamo/ticket-marketplace/internal/service" // coordinator
)

const maxWebhookBytes = 64 << 10

// WebhookHandler receives payment provider notifications.  The route is
// public; authenticity comes from the signature header.
type WebhookHandler struct {
    Provider    payment.Provider
    Coordinator *service.Coordinator
    Log         *zap.Logger
    SigHeader   string
}

// NewWebhookHandler constructs a WebhookHandler for the Stripe-Signature header.
func NewWebhookHandler(p payment.Provider, coord *service.Coordinator, log *zap.Logger) *WebhookHandler {
    if p == nil || coord == nil {
        panic("nil dependency passed to NewWebhookHandler")
    }
    return &WebhookHandler{Provider: p, Coordinator: coord, Log: log, SigHeader: "Stripe-Signature"}
}

// Payments handles POST /v1/webhooks/payments.  A 5xx makes the provider
// deliver again, so only failures worth retrying return one.
func (h *WebhookHandler) Payments(c echo.Context) error {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes+1))
    if err != nil || len(body) > maxWebhookBytes {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
    }
    evt, err := h.Provider.ParseWebhook(body, c.Request().Header.Get(h.SigHeader))
    if err != nil {
        if errors.Is(err, payment.ErrInvalidSignature) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
        }
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
    }
    if err := h.Coordinator.HandleWebhook(c.Request().Context(), evt); err != nil {
        if errors.Is(err, service.ErrNotFound) {
            // not one of our orders
            return c.JSON(http.StatusOK, echo.Map{"received": true, "ignored": true})
        }
        h.Log.Error("webhook processing failed", zap.String("event_id", evt.ID), zap.String("type", evt.Type), zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
    }
    return c.JSON(http.StatusOK, echo.Map{"received": true})
}
