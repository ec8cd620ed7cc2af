package handler

import (
    "net/http" // HTTP status codes
    "time"     // event schedule fields

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // error logging

    "github.com/iliyamo/ticket-marketplace/internal/model"   // event statuses
    "github.com/iliyamo/ticket-marketplace/internal/service" // catalog
    "github.com/iliyamo/ticket-marketplace/internal/utils"   // price parsing
)

// OrganizerHandler lets organizers manage their events and ticket types.
// Foreign events are reported as 404 by the catalog.
type OrganizerHandler struct {
    Catalog *service.Catalog
    Log     *zap.Logger
}

// NewOrganizerHandler constructs an OrganizerHandler.
func NewOrganizerHandler(cat *service.Catalog, log *zap.Logger) *OrganizerHandler {
    if cat == nil {
        panic("nil catalog passed to NewOrganizerHandler")
    }
    return &OrganizerHandler{Catalog: cat, Log: log}
}

type eventReq struct {
    Title        string    `json:"title" validate:"required,max=200"`
    Description  string    `json:"description" validate:"max=5000"`
    Venue        string    `json:"venue" validate:"required,max=200"`
    StartsAt     time.Time `json:"starts_at" validate:"required"`
    EndsAt       time.Time `json:"ends_at" validate:"required"`
    SaleStartsAt time.Time `json:"sale_starts_at" validate:"required"`
    SaleEndsAt   time.Time `json:"sale_ends_at" validate:"required"`
}

func (r eventReq) input() service.EventInput {
    return service.EventInput{
        Title:        r.Title,
        Description:  r.Description,
        Venue:        r.Venue,
        StartsAt:     r.StartsAt,
        EndsAt:       r.EndsAt,
        SaleStartsAt: r.SaleStartsAt,
        SaleEndsAt:   r.SaleEndsAt,
    }
}

// CreateEvent handles POST /v1/organizer/events.  New events are DRAFT.
func (h *OrganizerHandler) CreateEvent(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var req eventReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    ev, err := h.Catalog.CreateEvent(c.Request().Context(), orgID, req.input())
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, toEventResp(ev))
}

// UpdateEvent handles PATCH /v1/organizer/events/:id.  The body carries
// the full editable state of the event.
func (h *OrganizerHandler) UpdateEvent(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    var req eventReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    ev, err := h.Catalog.UpdateEvent(c.Request().Context(), orgID, eventID, req.input())
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toEventResp(ev))
}

// ListEvents handles GET /v1/organizer/events.
func (h *OrganizerHandler) ListEvents(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    list, err := h.Catalog.ListMine(c.Request().Context(), orgID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"events": toEventList(list)})
}

// Publish handles POST /v1/organizer/events/:id/publish.
func (h *OrganizerHandler) Publish(c echo.Context) error { return h.setStatus(c, model.EventPublished) }

// Archive handles POST /v1/organizer/events/:id/archive.
func (h *OrganizerHandler) Archive(c echo.Context) error { return h.setStatus(c, model.EventArchived) }

// Cancel handles POST /v1/organizer/events/:id/cancel.  Paid orders are
// refunded one by one through the refund endpoint.
func (h *OrganizerHandler) Cancel(c echo.Context) error { return h.setStatus(c, model.EventCancelled) }

func (h *OrganizerHandler) setStatus(c echo.Context, to model.EventStatus) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    ev, err := h.Catalog.SetStatus(c.Request().Context(), orgID, eventID, to)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toEventResp(ev))
}

type ticketTypeReq struct {
    Name        string `json:"name" validate:"required,max=100"`
    Price       string `json:"price" validate:"required"` // decimal string, e.g. "49.90"
    Currency    string `json:"currency" validate:"omitempty,len=3,alpha"`
    Capacity    int    `json:"capacity" validate:"required,gte=1"`
    MaxPerOrder int    `json:"max_per_order" validate:"gte=0"`
}

// AddTicketType handles POST /v1/organizer/events/:id/ticket-types.  The
// ticket type and its inventory row are created together.
func (h *OrganizerHandler) AddTicketType(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    var req ticketTypeReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    currency := h.Catalog.Currency(req.Currency) // falls back to the default currency
    cents, err := utils.ParseAmount(req.Price, currency)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed", "fields": echo.Map{"price": "price"}})
    }
    v, err := h.Catalog.AddTicketType(c.Request().Context(), orgID, eventID, service.TicketTypeInput{
        Name:        req.Name,
        PriceCents:  cents,
        Currency:    currency,
        Capacity:    req.Capacity,
        MaxPerOrder: req.MaxPerOrder,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, toTicketTypeResp(*v))
}

type resizeReq struct {
    Capacity int `json:"capacity" validate:"gte=0"`
}

// ResizeTicketType handles PATCH /v1/organizer/ticket-types/:id.
func (h *OrganizerHandler) ResizeTicketType(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ttID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket type id"})
    }
    var req resizeReq
    if ok, resp := bindAndValidate(c, &req); !ok {
        return resp
    }
    v, err := h.Catalog.ResizeTicketType(c.Request().Context(), orgID, ttID, req.Capacity)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, toTicketTypeResp(*v))
}

// EventOrders handles GET /v1/organizer/events/:id/orders.
func (h *OrganizerHandler) EventOrders(c echo.Context) error {
    orgID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    limit, offset := paging(c)
    list, err := h.Catalog.EventOrders(c.Request().Context(), orgID, eventID, limit, offset)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"orders": toOrderList(list), "limit": limit, "offset": offset})
}
