package handler

import (
    "context"  // enqueuer signatures
    "net/http" // HTTP status codes
    "time"     // reconcile age parameter

    "github.com/labstack/echo/v4" // Echo web framework
    "go.uber.org/zap"             // error logging

    "github.com/iliyamo/ticket-marketplace/internal/service" // ledger audit
)

// TaskEnqueuer schedules background jobs immediately.  An empty task id
// with a nil error means an identical task is already queued.
type TaskEnqueuer interface {
    EnqueueSweep(ctx context.Context) (string, error)
    EnqueueReconcile(ctx context.Context, olderThan time.Duration) (string, error)
}

// AdminHandler triggers maintenance jobs and exposes the ledger audit trail.
type AdminHandler struct {
    Jobs   TaskEnqueuer
    Audit  *service.Ledger
    Log    *zap.Logger
}

// NewAdminHandler constructs an AdminHandler.  jobs may be nil when the
// worker queue is not configured.
func NewAdminHandler(jobs TaskEnqueuer, ledger *service.Ledger, log *zap.Logger) *AdminHandler {
    return &AdminHandler{Jobs: jobs, Audit: ledger, Log: log}
}

// Sweep handles POST /v1/admin/sweep.
func (h *AdminHandler) Sweep(c echo.Context) error {
    if h.Jobs == nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "job queue unavailable"})
    }
    id, err := h.Jobs.EnqueueSweep(c.Request().Context())
    if err != nil {
        h.Log.Error("enqueue sweep failed", zap.Error(err))
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "job queue unavailable"})
    }
    return c.JSON(http.StatusAccepted, echo.Map{"task_id": id, "duplicate": id == ""})
}

// Reconcile handles POST /v1/admin/reconcile?older_than=2m.
func (h *AdminHandler) Reconcile(c echo.Context) error {
    if h.Jobs == nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "job queue unavailable"})
    }
    var olderThan time.Duration
    if s := c.QueryParam("older_than"); s != "" {
        d, err := time.ParseDuration(s)
        if err != nil || d < 0 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid older_than"})
        }
        olderThan = d
    }
    id, err := h.Jobs.EnqueueReconcile(c.Request().Context(), olderThan)
    if err != nil {
        h.Log.Error("enqueue reconcile failed", zap.Error(err))
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "job queue unavailable"})
    }
    return c.JSON(http.StatusAccepted, echo.Map{"task_id": id, "duplicate": id == ""})
}

type ledgerEntryResp struct {
    ID        uint64    `json:"id"`
    Kind      string    `json:"kind"`
    Quantity  int       `json:"quantity"`
    RefType   string    `json:"ref_type"`
    RefID     string    `json:"ref_id"`
    Reason    string    `json:"reason,omitempty"`
    CreatedAt time.Time `json:"created_at"`
}

// Ledger handles GET /v1/admin/ticket-types/:id/ledger.
func (h *AdminHandler) Ledger(c echo.Context) error {
    ttID, ok := parseID(c, "id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket type id"})
    }
    limit, _ := paging(c)
    ctx := c.Request().Context()
    inv, err := h.Audit.Availability(ctx, ttID)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    entries, err := h.Audit.Entries(ctx, ttID, limit)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    out := make([]ledgerEntryResp, 0, len(entries))
    for _, e := range entries {
        out = append(out, ledgerEntryResp{ID: e.ID, Kind: string(e.Kind), Quantity: e.Quantity, RefType: e.RefType, RefID: e.RefID, Reason: e.Reason, CreatedAt: e.CreatedAt})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "ticket_type_id": inv.TicketTypeID,
        "capacity":       inv.TotalCapacity,
        "held":           inv.Held,
        "sold":           inv.Sold,
        "entries":        out,
    })
}
