package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/config"
	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/repository/memstore"
	"github.com/iliyamo/ticket-marketplace/internal/service"
	"github.com/iliyamo/ticket-marketplace/internal/utils"
)

const testSecret = "router-test-secret"

type api struct {
	e    *echo.Echo
	fake *payment.FakeProvider
}

// newAPI wires the whole HTTP surface over the in-memory store and the fake
// provider, without Redis: the guard middlewares pass through.
func newAPI(t *testing.T) *api {
	t.Helper()
	log := zap.NewNop()
	store := memstore.New()
	fake := payment.NewFakeProvider("whsec_router")
	provider := payment.NewRetrying(fake, payment.RetryPolicy{MaxAttempts: 2}, log)

	opts := []service.Option{service.WithLogger(log)}
	ledger := service.NewLedger(store, opts...)
	reservations := service.NewReservationManager(store, ledger, 10*time.Minute, opts...)
	coordinator := service.NewCoordinator(store, ledger, reservations, provider, nil, opts...)
	refunds := service.NewRefundProcessor(store, ledger, provider, opts...)
	catalog := service.NewCatalog(store, "usd", opts...)

	cfg := config.Config{JWTSecret: testSecret, AccessTTLMin: 15, RefreshTTLDays: 1, BcryptCost: 4}
	guard := []echo.MiddlewareFunc{middleware.NewIdempotency(config.LoadIdempotencyConfig(), nil)}

	e := echo.New()
	e.Validator = handler.NewRequestValidator()
	RegisterRoutes(e, handler.NewHealthHandler(map[string]handler.Pinger{
		"store": handler.PingFunc(func(context.Context) error { return nil }),
	}))
	RegisterAuth(e, handler.NewAuthHandler(cfg, store.Users(), store.Tokens()), testSecret)
	RegisterPublic(e, handler.NewPublicHandler(catalog, log), middleware.NewRedisCache(config.LoadCacheConfig(), nil))
	RegisterWebhooks(e, handler.NewWebhookHandler(provider, coordinator, log))
	RegisterCustomer(e, handler.NewCheckoutHandler(reservations, coordinator, log), handler.NewRefundHandler(refunds, log), testSecret, guard...)
	RegisterOrganizer(e, handler.NewOrganizerHandler(catalog, log), testSecret, guard...)
	RegisterRefunds(e, handler.NewRefundHandler(refunds, log), testSecret, guard...)
	RegisterAdmin(e, handler.NewAdminHandler(nil, ledger, log), testSecret)
	return &api{e: e, fake: fake}
}

func (a *api) do(t *testing.T, method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// register creates an account through the API and returns its access token.
func (a *api) register(t *testing.T, email, role string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{"email": email, "password": "s3cret-pass", "role": role}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	access := decode(t, rec)["access"].(map[string]any)
	return access["token"].(string)
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, 999, model.RoleAdmin, 15)
	require.NoError(t, err)
	return tok.Token
}

// publishedTicketType creates an on-sale event with one ticket type and
// returns the ticket type id.
func (a *api) publishedTicketType(t *testing.T, organizer string, capacity int) uint64 {
	t.Helper()
	now := time.Now().UTC()
	rec := a.do(t, http.MethodPost, "/v1/organizer/events", organizer, echo.Map{
		"title":          "Night Show",
		"venue":          "Main Hall",
		"starts_at":      now.Add(48 * time.Hour),
		"ends_at":        now.Add(50 * time.Hour),
		"sale_starts_at": now.Add(-time.Hour),
		"sale_ends_at":   now.Add(24 * time.Hour),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	eventID := uint64(decode(t, rec)["id"].(float64))

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/organizer/events/%d/ticket-types", eventID), organizer,
		echo.Map{"name": "GA", "price": "25.00", "capacity": capacity}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ttID := uint64(decode(t, rec)["id"].(float64))

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/organizer/events/%d/publish", eventID), organizer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PUBLISHED", decode(t, rec)["status"])
	return ttID
}

func (a *api) hold(t *testing.T, buyer string, ttID uint64, qty int, key string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/v1/reservations", buyer,
		echo.Map{"ticket_type_id": ttID, "quantity": qty}, map[string]string{"Idempotency-Key": key})
}

func (a *api) confirm(t *testing.T, buyer, resID, method string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/v1/orders/confirm", buyer,
		echo.Map{"reservation_id": resID, "payment_method": method}, map[string]string{"Idempotency-Key": "confirm-" + resID})
}

func (a *api) available(t *testing.T, ttID uint64) int {
	t.Helper()
	rec := a.do(t, http.MethodGet, fmt.Sprintf("/v1/ticket-types/%d/availability", ttID), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return int(decode(t, rec)["available"].(float64))
}

func TestHealthEndpoints(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"checks":{"store":"ok"}}`, rec.Body.String())
}

func TestReady_ReportsFailingDependency(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, handler.NewHealthHandler(map[string]handler.Pinger{
		"redis": handler.PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		"mysql": nil,
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestCheckout_HoldPayRefund(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "organizer")
	buyer := a.register(t, "buyer@example.com", "")
	ttID := a.publishedTicketType(t, organizer, 2)
	assert.Equal(t, 2, a.available(t, ttID))

	rec := a.hold(t, buyer, ttID, 2, "hold-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	resID := res["id"].(string)
	assert.Equal(t, "HELD", res["state"])
	assert.Equal(t, "50.00", res["total"])
	assert.Equal(t, 0, a.available(t, ttID))

	// the same key returns the same hold
	rec = a.hold(t, buyer, ttID, 2, "hold-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, resID, decode(t, rec)["id"])

	rec = a.confirm(t, buyer, resID, "pm_card_visa")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ord := decode(t, rec)
	orderID := ord["id"].(string)
	assert.Equal(t, "PAID", ord["state"])
	assert.Equal(t, 1, a.fake.ChargeCount())

	rec = a.do(t, http.MethodGet, "/v1/orders", buyer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 1)

	// customers cannot refund
	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/refund", buyer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/refund", organizer, echo.Map{"reason": "venue change"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "REFUNDED", out["order"].(map[string]any)["state"])
	assert.Equal(t, "SUCCEEDED", out["refund"].(map[string]any)["state"])
	assert.Equal(t, 2, a.available(t, ttID))

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/ticket-types/%d/ledger", ttID), adminToken(t), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ledger := decode(t, rec)
	assert.EqualValues(t, 0, ledger["held"])
	assert.EqualValues(t, 0, ledger["sold"])
	assert.NotEmpty(t, ledger["entries"])
}

func TestCheckout_ErrorStatuses(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "ORGANIZER")
	buyer := a.register(t, "buyer@example.com", "CUSTOMER")
	ttID := a.publishedTicketType(t, organizer, 1)

	rec := a.do(t, http.MethodPost, "/v1/reservations", buyer, echo.Map{"ticket_type_id": ttID, "quantity": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_key_required")

	rec = a.hold(t, buyer, ttID, 0, "zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")

	rec = a.hold(t, buyer, ttID, 1, "first")
	require.Equal(t, http.StatusCreated, rec.Code)
	resID := decode(t, rec)["id"].(string)

	rec = a.hold(t, buyer, ttID, 1, "second")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "sold_out")

	rec = a.confirm(t, buyer, resID, payment.DeclinedMethod)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "payment_declined")
	assert.Equal(t, 1, a.available(t, ttID))

	rec = a.confirm(t, buyer, "not-a-uuid", "pm_card_visa")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/organizer/events", buyer, echo.Map{}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckout_ProcessingChargeCompletesByWebhook(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "organizer")
	buyer := a.register(t, "buyer@example.com", "customer")
	ttID := a.publishedTicketType(t, organizer, 3)

	rec := a.hold(t, buyer, ttID, 1, "h")
	require.Equal(t, http.StatusCreated, rec.Code)
	resID := decode(t, rec)["id"].(string)

	rec = a.confirm(t, buyer, resID, payment.ProcessingMethod)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	orderID := decode(t, rec)["id"].(string)

	// cancel is refused while the charge is undecided
	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/cancel", buyer, nil, map[string]string{"Idempotency-Key": "c"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.True(t, a.fake.Settle(orderID, true))
	payload, sig, err := a.fake.SignedWebhook(payment.EventChargeSucceeded, orderID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	bad := httptest.NewRecorder()
	a.e.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	ok := httptest.NewRecorder()
	a.e.ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	rec = a.do(t, http.MethodGet, "/v1/orders/"+orderID, buyer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", decode(t, rec)["state"])

	// the buyer may cancel a paid order before the event starts
	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/cancel", buyer, echo.Map{"reason": "cannot attend"}, map[string]string{"Idempotency-Key": "c2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode(t, rec)
	assert.Equal(t, "CANCELLED", cancelled["order"].(map[string]any)["state"])
	assert.Equal(t, "SUCCEEDED", cancelled["refund"].(map[string]any)["state"])
	assert.Equal(t, 3, a.available(t, ttID))
}

func TestAdmin_JobsUnavailableWithoutQueue(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/admin/sweep", adminToken(t), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = a.do(t, http.MethodPost, "/v1/admin/reconcile", adminToken(t), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	organizer := a.register(t, "org@example.com", "organizer")
	rec = a.do(t, http.MethodPost, "/v1/admin/sweep", organizer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPublic_ListsPublishedEvents(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "organizer")
	a.publishedTicketType(t, organizer, 5)

	rec := a.do(t, http.MethodGet, "/v1/events?q=night", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	id := uint64(events[0].(map[string]any)["id"].(float64))

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/events/%d", id), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"available":5`)

	rec = a.do(t, http.MethodGet, "/v1/events/abc", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund_ReasonLimitedTo255Characters(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "ORGANIZER")
	buyer := a.register(t, "buyer@example.com", "")
	ttID := a.publishedTicketType(t, organizer, 1)

	rec := a.hold(t, buyer, ttID, 1, "hold-r")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = a.confirm(t, buyer, decode(t, rec)["id"].(string), "pm_card_visa")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	orderID := decode(t, rec)["id"].(string)

	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/refund", organizer, echo.Map{"reason": strings.Repeat("r", 256)}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
	assert.Equal(t, 0, a.available(t, ttID))

	reason := strings.Repeat("r", 255)
	rec = a.do(t, http.MethodPost, "/v1/orders/"+orderID+"/refund", organizer, echo.Map{"reason": reason}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, reason, out["refund"].(map[string]any)["reason"])
	assert.Equal(t, reason, out["order"].(map[string]any)["cancel_reason"])
	assert.Equal(t, 1, a.available(t, ttID))
}

func TestOrganizer_PriceFollowsCurrencyMinorUnits(t *testing.T) {
	a := newAPI(t)
	organizer := a.register(t, "org@example.com", "ORGANIZER")
	now := time.Now().UTC()
	rec := a.do(t, http.MethodPost, "/v1/organizer/events", organizer, echo.Map{
		"title":          "Tokyo Night",
		"venue":          "Budokan",
		"starts_at":      now.Add(48 * time.Hour),
		"ends_at":        now.Add(50 * time.Hour),
		"sale_starts_at": now.Add(-time.Hour),
		"sale_ends_at":   now.Add(24 * time.Hour),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	path := fmt.Sprintf("/v1/organizer/events/%d/ticket-types", uint64(decode(t, rec)["id"].(float64)))

	rec = a.do(t, http.MethodPost, path, organizer, echo.Map{"name": "S", "price": "1500.50", "currency": "JPY", "capacity": 5}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, path, organizer, echo.Map{"name": "S", "price": "1500", "currency": "JPY", "capacity": 5}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tt := decode(t, rec)
	assert.Equal(t, "1500", tt["price"])
	assert.Equal(t, "jpy", tt["currency"])

	rec = a.do(t, http.MethodPost, path, organizer, echo.Map{"name": "A", "price": "12.5", "capacity": 5}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tt = decode(t, rec)
	assert.Equal(t, "12.50", tt["price"])
	assert.Equal(t, "usd", tt["currency"])
}
