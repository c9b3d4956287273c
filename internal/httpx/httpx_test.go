package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGateway struct {
	captureErr error
}

func (g *stubGateway) CreateIntent(_ context.Context, in payments.Intent) (payments.IntentResult, error) {
	return payments.IntentResult{ID: "PP-" + in.Reference, ApprovalURL: "https://pay.example/" + in.Reference}, nil
}

func (g *stubGateway) Capture(_ context.Context, ref string) (payments.CaptureResult, error) {
	if g.captureErr != nil {
		return payments.CaptureResult{}, g.captureErr
	}
	return payments.CaptureResult{Completed: true, Status: "COMPLETED", CaptureID: "CAP-" + ref}, nil
}

type env struct {
	router  http.Handler
	auth    *httpx.Auth
	store   *memory.Store
	gw      *stubGateway
	owner   orders.User
	addr    orders.Address
	admin   orders.User
	viewer  orders.User
	product orders.Product
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	e := &env{store: store, gw: &stubGateway{}}
	e.owner = store.AddUser()
	e.addr = store.AddAddress(e.owner.ID, true)
	e.admin = store.AddUser()
	e.viewer = store.AddUser()
	e.product = store.AddProduct("widget", 50, 5)

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	orderSvc := &fulfillment.Service{
		Store:        store,
		Metrics:      rec,
		Log:          zap.NewNop(),
		CreateTx:     fulfillment.DefaultCreateTx(),
		TransitionTx: fulfillment.DefaultTransitionTx(),
		Retries:      2,
	}
	paySvc := &payments.Service{
		Store:     store,
		Orders:    orderSvc,
		Gateway:   e.gw,
		Addresses: store,
		Carts:     store,
		Metrics:   rec,
		Log:       zap.NewNop(),
		Tx:        fulfillment.DefaultCreateTx(),
		ReadTx:    fulfillment.DefaultTransitionTx(),
		Retries:   2,
	}
	e.auth = &httpx.Auth{
		Secret: []byte("test-secret"),
		Authorizer: access.Static{
			e.admin.UUID:  access.NewSet(access.ManageOrders, access.ViewOrders),
			e.viewer.UUID: access.NewSet(access.ViewOrders),
		},
	}
	e.router = httpx.NewRouter(httpx.RouterConfig{
		Log:      zap.NewNop(),
		Metrics:  rec,
		Gatherer: reg,
		Auth:     e.auth,
		Timeout:  5 * time.Second,
	}, &httpx.OrdersHandler{Orders: orderSvc}, &httpx.PaymentsHandler{Payments: paySvc})
	return e
}

func (e *env) token(t *testing.T, u orders.User) string {
	t.Helper()
	tok, err := e.auth.Token(u.UUID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (e *env) createOrder(t *testing.T, qty int) orders.Order {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/orders", e.token(t, e.admin), map[string]any{
		"user_id":    e.owner.UUID,
		"address_id": e.addr.ID,
		"items":      []map[string]any{{"product_id": e.product.UUID, "quantity": qty}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[orders.Order](t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: e.admin.UUID})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	other := &httpx.Auth{Secret: []byte("other")}
	forged, err := other.Token(e.admin.UUID, time.Hour)
	require.NoError(t, err)

	expired, err := e.auth.Token(e.admin.UUID, -time.Minute)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"missing":      "",
		"garbage":      "abc.def.ghi",
		"alg none":     unsigned,
		"wrong secret": forged,
		"expired":      expired,
	} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/orders/x", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestCreateOrderHTTP(t *testing.T) {
	e := newEnv(t)
	o := e.createOrder(t, 2)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, int64(100), o.TotalAmount)

	rec := e.do(t, http.MethodPost, "/orders", e.token(t, e.owner), map[string]any{
		"address_id": e.addr.ID,
		"items":      []map[string]any{{"product_id": e.product.UUID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "MANAGE_ORDERS required")

	rec = e.do(t, http.MethodPost, "/orders", e.token(t, e.admin), map[string]any{
		"user_id":    e.owner.UUID,
		"address_id": e.addr.ID,
		"items":      []map[string]any{{"product_id": e.product.UUID, "quantity": 10}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[map[string]any](t, rec)
	details := body["details"].(map[string]any)
	assert.Equal(t, e.product.UUID, details["product_id"])
	assert.Equal(t, 10.0, details["required"])
	assert.Equal(t, 3.0, details["available"])

	rec = e.do(t, http.MethodPost, "/orders", e.token(t, e.admin), map[string]any{"items": []any{}, "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderVisibility(t *testing.T) {
	e := newEnv(t)
	o := e.createOrder(t, 1)
	stranger := e.store.AddUser()

	tests := []struct {
		name string
		user orders.User
		want int
	}{
		{"owner", e.owner, http.StatusOK},
		{"viewer", e.viewer, http.StatusOK},
		{"manager", e.admin, http.StatusOK},
		{"stranger", stranger, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/orders/"+o.UUID, e.token(t, tt.user), nil)
			assert.Equal(t, tt.want, rec.Code)
			rec = e.do(t, http.MethodGet, "/orders/"+o.UUID+"/status", e.token(t, tt.user), nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := e.do(t, http.MethodGet, "/orders/00000000-0000-0000-0000-000000000000", e.token(t, e.admin), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAndDelete(t *testing.T) {
	e := newEnv(t)
	o := e.createOrder(t, 2)
	admin := e.token(t, e.admin)

	rec := e.do(t, http.MethodPatch, "/orders/"+o.UUID+"/status", admin, map[string]string{"status": "shipping"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "skip-state move")

	rec = e.do(t, http.MethodPatch, "/orders/"+o.UUID+"/status", e.token(t, e.owner), map[string]string{"status": "CANCELLED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPatch, "/orders/"+o.UUID+"/status", admin, map[string]string{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusProcessing, decode[orders.Order](t, rec).Status)

	rec = e.do(t, http.MethodGet, "/orders/"+o.UUID+"/status", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusProcessing, decode[orders.StatusSnapshot](t, rec).Status)

	rec = e.do(t, http.MethodDelete, "/orders/"+o.UUID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	p, _ := e.store.Product(e.product.ID)
	assert.Equal(t, 5, p.Stock, "restocked on delete")

	rec = e.do(t, http.MethodDelete, "/orders/"+o.UUID, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentFlowHTTP(t *testing.T) {
	e := newEnv(t)
	owner := e.token(t, e.owner)

	rec := e.do(t, http.MethodPost, "/payments", owner, map[string]any{
		"items":  []map[string]any{{"product_id": e.product.UUID, "quantity": 2, "unit_price": 50}},
		"amount": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[payments.CreatePaymentResult](t, rec)
	ref := created.Payment.TransactionID
	assert.True(t, strings.HasPrefix(created.ApprovalURL, "https://pay.example/"))

	rec = e.do(t, http.MethodPost, "/payments", owner, map[string]any{
		"items":  []map[string]any{{"product_id": e.product.UUID, "quantity": 2, "unit_price": 50}},
		"amount": 99,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "amount mismatch")

	rec = e.do(t, http.MethodPost, "/payments", e.token(t, e.viewer), map[string]any{
		"user_id": e.owner.UUID,
		"items":   []map[string]any{{"product_id": e.product.UUID, "quantity": 1, "unit_price": 50}},
		"amount":  50,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "paying for another user")

	rec = e.do(t, http.MethodPost, "/payments/"+ref+"/capture", e.token(t, e.viewer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	e.gw.captureErr = errors.New("connection reset")
	rec = e.do(t, http.MethodPost, "/payments/"+ref+"/capture", owner, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	e.gw.captureErr = nil
	rec = e.do(t, http.MethodPost, "/payments/"+ref+"/capture", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[orders.Order](t, rec)
	assert.Equal(t, orders.StatusProcessing, first.Status)

	rec = e.do(t, http.MethodGet, "/payments/paypal/capture?token="+ref, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.UUID, decode[orders.Order](t, rec).UUID, "replay returns the same order")
	assert.Equal(t, 1, e.store.OrderCount())

	rec = e.do(t, http.MethodGet, "/payments/"+ref, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.PaymentCompleted, decode[payments.PaymentView](t, rec).Status)

	rec = e.do(t, http.MethodGet, "/payments/paypal/capture", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersHTTP(t *testing.T) {
	e := newEnv(t)
	first := e.createOrder(t, 1)
	second := e.createOrder(t, 1)
	rec := e.do(t, http.MethodPatch, "/orders/"+first.UUID+"/status", e.token(t, e.admin), map[string]any{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stranger := e.store.AddUser()

	type page struct {
		Items []struct {
			UUID     string        `json:"uuid"`
			UserUUID string        `json:"user_uuid"`
			Status   orders.Status `json:"status"`
		} `json:"items"`
		Total int `json:"total"`
		Limit int `json:"limit"`
	}

	t.Run("viewer lists everything newest first", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/orders", e.token(t, e.viewer), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p := decode[page](t, rec)
		assert.Equal(t, 2, p.Total)
		assert.Equal(t, 10, p.Limit)
		require.Len(t, p.Items, 2)
		assert.Equal(t, second.UUID, p.Items[0].UUID)
		assert.Equal(t, e.owner.UUID, p.Items[0].UserUUID)
	})

	t.Run("status filter and paging", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/orders?status=processing&user_id="+e.owner.UUID, e.token(t, e.admin), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		p := decode[page](t, rec)
		require.Len(t, p.Items, 1)
		assert.Equal(t, first.UUID, p.Items[0].UUID)

		rec = e.do(t, http.MethodGet, "/orders?limit=1&offset=1", e.token(t, e.admin), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		p = decode[page](t, rec)
		assert.Equal(t, 2, p.Total)
		require.Len(t, p.Items, 1)
		assert.Equal(t, first.UUID, p.Items[0].UUID)
	})

	t.Run("owner sees own orders without a filter", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/orders", e.token(t, e.owner), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[page](t, rec).Total)
	})

	t.Run("stranger", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/orders?user_id="+e.owner.UUID, e.token(t, stranger), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = e.do(t, http.MethodGet, "/orders", e.token(t, stranger), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		p := decode[page](t, rec)
		assert.Equal(t, 0, p.Total)
		assert.Empty(t, p.Items)
	})

	t.Run("bad query", func(t *testing.T) {
		for _, q := range []string{"?limit=x", "?offset=-1", "?status=LOST"} {
			rec := e.do(t, http.MethodGet, "/orders"+q, e.token(t, e.admin), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})
}
