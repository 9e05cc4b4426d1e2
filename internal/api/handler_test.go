package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/ratelimit"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubCheckout struct {
	res   *service.CheckoutResult
	err   error
	got   *service.CheckoutRequest
	calls int
}

func (s *stubCheckout) Checkout(_ context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.calls++
	s.got = req
	return s.res, s.err
}

type stubPayments struct {
	conf      *service.Confirmation
	status    *payment.SessionStatus
	err       error
	confirmed []string
}

func (s *stubPayments) Retrieve(_ context.Context, _ string) (*payment.SessionStatus, error) {
	return s.status, s.err
}

func (s *stubPayments) Confirm(_ context.Context, sessionID string) (*service.Confirmation, error) {
	s.confirmed = append(s.confirmed, sessionID)
	return s.conf, s.err
}

type stubOrders struct {
	order  *models.Order
	err    error
	actor  string
	status models.OrderStatus
}

func (s *stubOrders) TransitionStatus(_ context.Context, _ string, status models.OrderStatus, _ *string, actor string) (*models.Order, error) {
	s.status = status
	s.actor = actor
	return s.order, s.err
}

func (s *stubOrders) MarkPaid(_ context.Context, _, actor string) (*models.Order, error) {
	s.actor = actor
	return s.order, s.err
}

func (s *stubOrders) Purge(_ context.Context, _, actor string) error {
	s.actor = actor
	return s.err
}

func (s *stubOrders) List(_ context.Context, _ models.OrderFilter) ([]models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.Order{*s.order}, nil
}

func (s *stubOrders) Get(_ context.Context, _ string) (*models.Order, []models.OrderItem, error) {
	return s.order, nil, s.err
}

type stubTracking struct {
	view *models.OrderView
	err  error
}

func (s *stubTracking) Track(_ context.Context, _, _ string) (*models.OrderView, error) {
	return s.view, s.err
}

type stubCarts struct {
	cart    *cart.Cart
	removed cart.Key
}

func (s *stubCarts) Get(context.Context, string) (*cart.Cart, error) { return s.cart, nil }
func (s *stubCarts) AddItem(context.Context, string, *service.CartItemRequest) (*cart.Cart, error) {
	return s.cart, nil
}
func (s *stubCarts) UpdateItem(context.Context, string, *service.CartItemRequest) (*cart.Cart, error) {
	return s.cart, nil
}
func (s *stubCarts) RemoveItem(_ context.Context, _ string, key cart.Key) (*cart.Cart, error) {
	s.removed = key
	return s.cart, nil
}
func (s *stubCarts) Clear(context.Context, string) error { return nil }

type stubVerifier struct {
	event *payment.WebhookEvent
	err   error
}

func (v *stubVerifier) Verify(_ []byte, _ string) (*payment.WebhookEvent, error) {
	return v.event, v.err
}

type stubLimiter struct{ err error }

func (l *stubLimiter) Allow(context.Context, ratelimit.Class, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, l.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(deps).SetupRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

const checkoutBody = `{"items":[{"product_id":"P1","quantity":2}],"payment_method":"CASH_ON_DELIVERY"}`

func TestCheckoutStatuses(t *testing.T) {
	tests := []struct {
		name   string
		res    *service.CheckoutResult
		status int
	}{
		{"new order", &service.CheckoutResult{OrderID: "o-1"}, http.StatusCreated},
		{"replayed order", &service.CheckoutResult{OrderID: "o-1", Existing: true}, http.StatusOK},
		{"card session", &service.CheckoutResult{SessionID: "cs_1", PaymentURL: "https://pay"}, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := &stubCheckout{res: tt.res}
			r := newRouter(Deps{Checkout: co})

			w := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, 1, co.calls)
		})
	}
}

func TestCheckoutIdempotencyHeader(t *testing.T) {
	co := &stubCheckout{res: &service.CheckoutResult{OrderID: "o-1"}}
	r := newRouter(Deps{Checkout: co})

	do(r, http.MethodPost, "/api/v1/checkout", checkoutBody, func(req *http.Request) {
		req.Header.Set("Idempotency-Key", "abc")
	})
	require.NotNil(t, co.got)
	assert.Equal(t, "abc", co.got.IdempotencyKey)

	do(r, http.MethodPost, "/api/v1/checkout",
		`{"items":[],"idempotency_key":"from-body"}`, func(req *http.Request) {
			req.Header.Set("Idempotency-Key", "abc")
		})
	assert.Equal(t, "from-body", co.got.IdempotencyKey)
}

func TestCheckoutErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperr.Validation("invalid request", map[string]string{"customer.email": "must be a valid email"}), http.StatusBadRequest, apperr.CodeValidation},
		{"stock", apperr.StockConflict(apperr.LineIssue{ProductID: "P1", Requested: 10, Available: 3}), http.StatusConflict, apperr.CodeInsufficientStock},
		{"unavailable", apperr.ProductUnavailable(apperr.LineIssue{ProductID: "P9"}), http.StatusConflict, apperr.CodeProductUnavailable},
		{"infrastructure", apperr.Infrastructure("place order", errors.New("pq: connection refused")), http.StatusInternalServerError, apperr.CodeInternal},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, apperr.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(Deps{Checkout: &stubCheckout{err: tt.err}})

			w := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.code, body["code"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, internalMessage, body["error"])
				assert.NotContains(t, w.Body.String(), "connection refused")
			}
		})
	}
}

func TestCheckoutStockConflictListsLines(t *testing.T) {
	err := apperr.StockConflict(apperr.LineIssue{Index: 0, ProductID: "P1", Requested: 10, Available: 3})
	r := newRouter(Deps{Checkout: &stubCheckout{err: err}})

	w := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
	require.Equal(t, http.StatusConflict, w.Code)

	lines := decode(t, w)["lines"].([]interface{})
	require.Len(t, lines, 1)
	line := lines[0].(map[string]interface{})
	assert.Equal(t, "P1", line["product_id"])
	assert.Equal(t, float64(10), line["requested"])
	assert.Equal(t, float64(3), line["available"])
}

func TestCheckoutMalformedBody(t *testing.T) {
	co := &stubCheckout{}
	r := newRouter(Deps{Checkout: co})

	w := do(r, http.MethodPost, "/api/v1/checkout", `{"items":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, co.calls)
}

func TestHoneypotReturnsDecoy(t *testing.T) {
	co := &stubCheckout{}
	bots := ratelimit.NewBotTracker(time.Hour)
	r := newRouter(Deps{Checkout: co, Bots: bots})

	w := do(r, http.MethodPost, "/api/v1/checkout",
		`{"items":[{"product_id":"P1","quantity":1}],"website":"http://spam.example"}`,
		func(req *http.Request) { req.RemoteAddr = "198.51.100.7:4000" })

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode(t, w)["order_id"])
	assert.Zero(t, co.calls)
	assert.Equal(t, 1, bots.Hits("198.51.100.7"))
}

func TestRateLimitRejects(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Rules{
		ratelimit.ClassCheckout: {Limit: 1, Window: time.Minute},
	})
	co := &stubCheckout{res: &service.CheckoutResult{OrderID: "o-1"}}
	r := newRouter(Deps{Checkout: co, Limiter: limiter})

	first := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	body := decode(t, second)
	assert.Equal(t, apperr.CodeRateLimited, body["code"])
	assert.NotZero(t, body["retry_after"])
	assert.NotEmpty(t, body["reset_at"])
	assert.Equal(t, 1, co.calls)

	// other clients have their own window
	other := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody, func(req *http.Request) {
		req.RemoteAddr = "203.0.113.9:5000"
	})
	assert.Equal(t, http.StatusCreated, other.Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	co := &stubCheckout{res: &service.CheckoutResult{OrderID: "o-1"}}
	r := newRouter(Deps{Checkout: co, Limiter: &stubLimiter{err: errors.New("redis down")}})

	w := do(r, http.MethodPost, "/api/v1/checkout", checkoutBody)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAdminRequiresAuthentication(t *testing.T) {
	sessions := auth.NewSessionAuth("test-secret", "admin_session")
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	orders := &stubOrders{order: &models.Order{ID: "o-1", Status: models.OrderStatusPending}}
	r := newRouter(Deps{
		Orders: orders,
		Auth:   auth.Chain(sessions, auth.NewAPIKeyAuth(string(hash))),
	})

	w := do(r, http.MethodGet, "/api/v1/admin/orders", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.CodeUnauthorized, decode(t, w)["code"])

	w = do(r, http.MethodGet, "/api/v1/admin/orders", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/v1/admin/orders", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer s3cret-key")
	})
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := sessions.Issue("alice", time.Hour)
	require.NoError(t, err)
	w = do(r, http.MethodPatch, "/api/v1/admin/orders/o-1/status", `{"status":"CONFIRMED"}`, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "admin_session", Value: token})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "session:alice", orders.actor)
	assert.Equal(t, models.OrderStatusConfirmed, orders.status)
}

func TestAdminWithoutAuthenticatorRejects(t *testing.T) {
	r := newRouter(Deps{Orders: &stubOrders{order: &models.Order{}}})
	w := do(r, http.MethodDelete, "/api/v1/admin/orders/o-1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminInvalidTransition(t *testing.T) {
	sessions := auth.NewSessionAuth("test-secret", "admin_session")
	token, err := sessions.Issue("alice", time.Hour)
	require.NoError(t, err)

	orders := &stubOrders{err: apperr.InvalidTransition("COMPLETED", "PREPARING")}
	r := newRouter(Deps{Orders: orders, Auth: sessions})

	w := do(r, http.MethodPatch, "/api/v1/admin/orders/o-1/status", `{"status":"PREPARING"}`, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "admin_session", Value: token})
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, decode(t, w)["code"])

	w = do(r, http.MethodGet, "/api/v1/admin/orders?limit=abc", "", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "admin_session", Value: token})
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmCheckout(t *testing.T) {
	paid := &payment.SessionStatus{ID: "cs_1", Paid: true, Amount: 20000, Currency: "eur", CustomerEmail: "ada@example.com"}

	p := &stubPayments{conf: &service.Confirmation{OrderID: "o-1", Session: paid}}
	r := newRouter(Deps{Payments: p})
	w := do(r, http.MethodGet, "/api/v1/checkout/confirm?session_id=cs_1", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "o-1", body["order_id"])
	assert.Equal(t, true, body["paid"])
	assert.Equal(t, float64(20000), body["amount"])
	assert.Equal(t, []string{"cs_1"}, p.confirmed)

	p.conf.Existing = true
	w = do(r, http.MethodGet, "/api/v1/checkout/confirm?session_id=cs_1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	r = newRouter(Deps{Payments: &stubPayments{err: apperr.PaymentIncomplete("payment has not been completed")}})
	w = do(r, http.MethodGet, "/api/v1/checkout/confirm?session_id=cs_2", "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, apperr.CodePaymentIncomplete, decode(t, w)["code"])
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		p := &stubPayments{}
		r := newRouter(Deps{Payments: p, Webhooks: &stubVerifier{err: errors.New("bad signature")}})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, p.confirmed)
	})

	t.Run("checkout completed", func(t *testing.T) {
		p := &stubPayments{conf: &service.Confirmation{OrderID: "o-1", Session: &payment.SessionStatus{Paid: true}}}
		v := &stubVerifier{event: &payment.WebhookEvent{Type: payment.EventCheckoutCompleted, SessionID: "cs_1"}}
		r := newRouter(Deps{Payments: p, Webhooks: v})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"cs_1"}, p.confirmed)
	})

	t.Run("async payment succeeded", func(t *testing.T) {
		p := &stubPayments{conf: &service.Confirmation{OrderID: "o-2", Session: &payment.SessionStatus{Paid: true}}}
		v := &stubVerifier{event: &payment.WebhookEvent{Type: payment.EventCheckoutAsyncSucceeded, SessionID: "cs_2"}}
		r := newRouter(Deps{Payments: p, Webhooks: v})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"cs_2"}, p.confirmed)
		assert.Equal(t, "o-2", decode(t, w)["order_id"])
	})

	t.Run("other event", func(t *testing.T) {
		p := &stubPayments{}
		v := &stubVerifier{event: &payment.WebhookEvent{Type: "charge.refunded"}}
		r := newRouter(Deps{Payments: p, Webhooks: v})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, p.confirmed)
	})

	t.Run("infrastructure failure asks for redelivery", func(t *testing.T) {
		p := &stubPayments{err: apperr.Infrastructure("retrieve session", errors.New("timeout"))}
		v := &stubVerifier{event: &payment.WebhookEvent{Type: payment.EventCheckoutCompleted, SessionID: "cs_1"}}
		r := newRouter(Deps{Payments: p, Webhooks: v})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unpaid session is acknowledged", func(t *testing.T) {
		p := &stubPayments{err: apperr.PaymentIncomplete("payment has not been completed")}
		v := &stubVerifier{event: &payment.WebhookEvent{Type: payment.EventCheckoutCompleted, SessionID: "cs_1"}}
		r := newRouter(Deps{Payments: p, Webhooks: v})
		w := do(r, http.MethodPost, "/api/v1/payments/webhook", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestTrackOrder(t *testing.T) {
	r := newRouter(Deps{Tracking: &stubTracking{err: apperr.NotFound("order")}})
	w := do(r, http.MethodGet, "/api/v1/orders/o-1?email=eve@example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	view := &models.OrderView{ID: "o-1", Status: models.OrderStatusShipped}
	r = newRouter(Deps{Tracking: &stubTracking{view: view}})
	w = do(r, http.MethodGet, "/api/v1/orders/o-1?email=ada@example.com", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SHIPPED", decode(t, w)["status"])
	assert.NotContains(t, w.Body.String(), "internal_notes")
}

func TestCartRoutes(t *testing.T) {
	carts := &stubCarts{cart: &cart.Cart{Lines: []cart.Line{
		{ProductID: "P1", Quantity: 2, UnitPrice: 1500, StockSnapshot: 5},
	}}}
	r := newRouter(Deps{Carts: carts})

	w := do(r, http.MethodGet, "/api/v1/carts/tok", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["item_count"])
	assert.Equal(t, float64(3000), body["subtotal"])

	w = do(r, http.MethodDelete, "/api/v1/carts/tok/items?product_id=P1&selected_color=black", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cart.Key{ProductID: "P1", SelectedColor: "black"}, carts.removed)

	w = do(r, http.MethodDelete, "/api/v1/carts/tok/items", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/api/v1/carts/tok", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestReadiness(t *testing.T) {
	r := newRouter(Deps{Readiness: map[string]Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{err: errors.New("dial tcp: refused")},
	}})

	w := do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decode(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "unavailable", checks["redis"])

	r = newRouter(Deps{Readiness: map[string]Pinger{"postgres": stubPinger{}}})
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
}
