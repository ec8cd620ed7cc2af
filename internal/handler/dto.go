package handler

import (
    "time" // timestamps in responses

    "github.com/iliyamo/ticket-marketplace/internal/model"   // domain types
    "github.com/iliyamo/ticket-marketplace/internal/service" // views returned by the catalog
    "github.com/iliyamo/ticket-marketplace/internal/utils"   // money formatting
)

// ----- responses -----

type reservationResp struct {
    ID           string    `json:"id"` // hold token
    TicketTypeID uint64    `json:"ticket_type_id"`
    EventID      uint64    `json:"event_id"`
    Quantity     int       `json:"quantity"`
    UnitPrice    string    `json:"unit_price"`
    Total        string    `json:"total"`
    Currency     string    `json:"currency"`
    State        string    `json:"state"`
    Reason       string    `json:"reason,omitempty"`
    ExpiresAt    time.Time `json:"expires_at"`
}

func toReservationResp(r *model.Reservation) reservationResp {
    return reservationResp{
        ID:           r.ID,
        TicketTypeID: r.TicketTypeID,
        EventID:      r.EventID,
        Quantity:     r.Quantity,
        UnitPrice:    utils.FormatAmount(r.UnitPriceCents, r.Currency),
        Total:        utils.FormatAmount(r.TotalCents(), r.Currency),
        Currency:     r.Currency,
        State:        string(r.State),
        Reason:       r.TerminalReason,
        ExpiresAt:    r.ExpiresAt,
    }
}

type orderItemResp struct {
    TicketTypeID uint64 `json:"ticket_type_id"`
    Quantity     int    `json:"quantity"`
    UnitPrice    string `json:"unit_price"`
}

type orderResp struct {
    ID            string          `json:"id"`
    ReservationID string          `json:"reservation_id"`
    EventID       uint64          `json:"event_id"`
    State         string          `json:"state"`
    Total         string          `json:"total"`
    Currency      string          `json:"currency"`
    PaymentRef    string          `json:"payment_ref,omitempty"`
    CancelReason  string          `json:"cancel_reason,omitempty"`
    Items         []orderItemResp `json:"items"`
    CreatedAt     time.Time       `json:"created_at"`
    PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

func toOrderResp(o *model.Order) orderResp {
    items := make([]orderItemResp, 0, len(o.Items))
    for _, it := range o.Items {
        items = append(items, orderItemResp{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity, UnitPrice: utils.FormatAmount(it.UnitPriceCents, o.Currency)})
    }
    return orderResp{
        ID:            o.ID,
        ReservationID: o.ReservationID,
        EventID:       o.EventID,
        State:         string(o.State),
        Total:         utils.FormatAmount(o.TotalCents, o.Currency),
        Currency:      o.Currency,
        PaymentRef:    o.PaymentRef,
        CancelReason:  o.CancelReason,
        Items:         items,
        CreatedAt:     o.CreatedAt,
        PaidAt:        o.PaidAt,
    }
}

func toOrderList(list []model.Order) []orderResp {
    out := make([]orderResp, 0, len(list))
    for i := range list {
        out = append(out, toOrderResp(&list[i]))
    }
    return out
}

type refundResp struct {
    ID       string `json:"id"`
    State    string `json:"state"`
    Amount   string `json:"amount"`
    Quantity int    `json:"quantity"`
    Reason   string `json:"reason,omitempty"`
}

// toRefundResp formats the refund in the currency of the order it reverses.
func toRefundResp(rf *model.Refund, currency string) *refundResp {
    if rf == nil {
        return nil
    }
    return &refundResp{ID: rf.ID, State: string(rf.State), Amount: utils.FormatAmount(rf.AmountCents, currency), Quantity: rf.Quantity, Reason: rf.Reason}
}

type eventResp struct {
    ID           uint64           `json:"id"`
    Title        string           `json:"title"`
    Description  string           `json:"description,omitempty"`
    Venue        string           `json:"venue"`
    StartsAt     time.Time        `json:"starts_at"`
    EndsAt       time.Time        `json:"ends_at"`
    SaleStartsAt time.Time        `json:"sale_starts_at"`
    SaleEndsAt   time.Time        `json:"sale_ends_at"`
    Status       string           `json:"status"`
    TicketTypes  []ticketTypeResp `json:"ticket_types,omitempty"`
}

func toEventResp(e *model.Event) eventResp {
    return eventResp{
        ID:           e.ID,
        Title:        e.Title,
        Description:  e.Description,
        Venue:        e.Venue,
        StartsAt:     e.StartsAt,
        EndsAt:       e.EndsAt,
        SaleStartsAt: e.SaleStartsAt,
        SaleEndsAt:   e.SaleEndsAt,
        Status:       string(e.Status),
    }
}

func toEventList(list []model.Event) []eventResp {
    out := make([]eventResp, 0, len(list))
    for i := range list {
        out = append(out, toEventResp(&list[i]))
    }
    return out
}

type ticketTypeResp struct {
    ID          uint64 `json:"id"`
    EventID     uint64 `json:"event_id"`
    Name        string `json:"name"`
    Price       string `json:"price"`
    Currency    string `json:"currency"`
    MaxPerOrder int    `json:"max_per_order"`
    Capacity    int    `json:"capacity"`
    Available   int    `json:"available"`
}

func toTicketTypeResp(v service.TicketTypeView) ticketTypeResp {
    return ticketTypeResp{
        ID:          v.ID,
        EventID:     v.EventID,
        Name:        v.Name,
        Price:       utils.FormatAmount(v.PriceCents, v.Currency),
        Currency:    v.Currency,
        MaxPerOrder: v.MaxPerOrder,
        Capacity:    v.TotalCapacity,
        Available:   v.Available,
    }
}

func toTicketTypeList(list []service.TicketTypeView) []ticketTypeResp {
    out := make([]ticketTypeResp, 0, len(list))
    for _, v := range list {
        out = append(out, toTicketTypeResp(v))
    }
    return out
}
