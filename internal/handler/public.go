package handler

import (
    "net/http" // HTTP status codes

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // error logging

    "github.com/iliyamo/ticket-marketplace/internal/service" // catalog
)

// PublicHandler serves the unauthenticated browse endpoints.  Responses
// are cached by the Redis cache middleware, so availability can lag by the
// cache TTL; the hold itself is always checked against the ledger.
type PublicHandler struct {
    Catalog *service.Catalog
    Log     *zap.Logger
}

// NewPublicHandler constructs a PublicHandler.
func NewPublicHandler(cat *service.Catalog, log *zap.Logger) *PublicHandler {
    if cat == nil {
        panic("nil catalog passed to NewPublicHandler")
    }
    return &PublicHandler{Catalog: cat, Log: log}
}

// ListEvents handles GET /v1/events?q=&limit=&offset=.
func (h *PublicHandler) ListEvents(c echo.Context) error {
    limit, offset := paging(c)
    list, err := h.Catalog.ListPublished(c.Request().Context(), c.QueryParam("q"), limit, offset)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"events": toEventList(list), "limit": limit, "offset": offset})
}

// GetEvent handles GET /v1/events/:id.  Only published events are visible.
func (h *PublicHandler) GetEvent(c echo.Context) error {
    eventID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    ev, tts, err := h.Catalog.PublicEvent(c.Request().Context(), eventID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    resp := toEventResp(ev)
    resp.TicketTypes = toTicketTypeList(tts)
    return c.JSON(http.StatusOK, resp)
}

// Availability handles GET /v1/ticket-types/:id/availability.
func (h *PublicHandler) Availability(c echo.Context) error {
    ttID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket type id"})
    }
    inv, err := h.Catalog.Availability(c.Request().Context(), ttID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "ticket_type_id": inv.TicketTypeID,
        "capacity":       inv.TotalCapacity,
        "held":           inv.Held,
        "sold":           inv.Sold,
        "available":      inv.Available(),
    })
}
