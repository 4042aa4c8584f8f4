package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
	"github.com/xenking/bookshop-checkout/internal/domain/checkout"
	"github.com/xenking/bookshop-checkout/internal/domain/product"
	"github.com/xenking/bookshop-checkout/internal/notify"
	"github.com/xenking/bookshop-checkout/internal/payment"
	"github.com/xenking/bookshop-checkout/internal/storage/memory"
)

// --- Mock implementations ---

type mockCatalog struct {
	products []product.Product
	listErr  error
}

func (m *mockCatalog) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

type stubGateway struct {
	session     *payment.Session
	sessionErr  error
	callback    *payment.CallbackResult
	callbackErr error
}

func (g *stubGateway) CreateSession(_ context.Context, _ payment.CreateSessionRequest) (*payment.Session, error) {
	return g.session, g.sessionErr
}

func (g *stubGateway) ExecuteCallback(_ url.Values) (*payment.CallbackResult, error) {
	return g.callback, g.callbackErr
}

// --- Helpers ---

type env struct {
	mux     *http.ServeMux
	ledger  *memory.StockLedger
	orders  *memory.OrderRepository
	gateway *stubGateway
}

func newEnv(t *testing.T) *env {
	t.Helper()
	lg := zap.NewNop()

	catalog := &mockCatalog{products: []product.Product{
		{ID: "b1", Title: "Dune", Author: "Frank Herbert", Price: decimal.RequireFromString("9.99"), Active: true},
		{ID: "b2", Title: "Hyperion", Author: "Dan Simmons", Price: decimal.RequireFromString("12.00"), Active: true},
	}}

	ledger := memory.NewStockLedger(nil, lg)
	ledger.SetStock("b1", 10)
	ledger.SetStock("b2", 3)

	carts := cart.NewManager(memory.NewCartStore(), ledger, catalog, 5*time.Minute, lg)
	orders := memory.NewOrderRepository()

	gw := &stubGateway{}
	gateways := map[payment.Method]payment.Gateway{
		payment.MethodCOD:      payment.COD{},
		payment.MethodRedirect: gw,
		payment.MethodPushQR:   gw,
	}

	svc := checkout.NewService(carts, orders, gateways, lg)
	rec := checkout.NewReconciler(gw, orders, ledger, lg)

	mux := http.NewServeMux()
	New(carts, svc, rec, catalog, notify.NewHub(lg)).Register(mux)

	return &env{mux: mux, ledger: ledger, orders: orders, gateway: gw}
}

func (e *env) do(t *testing.T, method, target, session string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if session != "" {
		req.Header.Set("X-Session-ID", session)
	}

	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *env) addItem(t *testing.T, session, productID string, qty int) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: productID, Quantity: qty})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func validCheckout(method string) checkoutRequest {
	return checkoutRequest{
		FullName:      "Jane Reader",
		Address:       "1 Library Way",
		Phone:         "0123456789",
		PaymentMethod: method,
	}
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeJSON[[]productJSON](t, w)
	require.Len(t, out, 2)
	assert.Equal(t, "b1", out[0].ID)
	assert.Equal(t, "Dune", out[0].Title)
	assert.Equal(t, "9.99", out[0].Price)
}

func TestCartRequiresSession(t *testing.T) {
	e := newEnv(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/cart"},
		{http.MethodPost, "/api/cart/items"},
		{http.MethodPut, "/api/cart/items/b1"},
		{http.MethodDelete, "/api/cart/items/b1"},
		{http.MethodPost, "/api/checkout"},
	} {
		w := e.do(t, tc.method, tc.target, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s", tc.method, tc.target)
	}
}

func TestSessionCookieFallback(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s-cookie"})
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAddItem(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/cart/items", "s1", addItemRequest{ProductID: "b1", Quantity: 2})
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeJSON[cartJSON](t, w)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "b1", out.Items[0].ProductID)
	assert.Equal(t, 2, out.Items[0].Quantity)
	assert.Equal(t, "19.98", out.Total)
	assert.False(t, out.ItemsExpired)
}

func TestAddItem_InsufficientStock(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/cart/items", "s1", addItemRequest{ProductID: "b2", Quantity: 5})
	require.Equal(t, http.StatusConflict, w.Code)

	out := decodeJSON[errorResponse](t, w)
	require.NotNil(t, out.Available)
	require.NotNil(t, out.Requested)
	assert.Equal(t, 3, *out.Available)
	assert.Equal(t, 5, *out.Requested)
}

func TestAddItem_BadInput(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/cart/items", "s1", addItemRequest{ProductID: "b1", Quantity: 0})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, http.MethodPost, "/api/cart/items", "s1", addItemRequest{ProductID: "ghost", Quantity: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/cart/items", bytes.NewBufferString("{broken"))
	req.Header.Set("X-Session-ID", "s1")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateItem(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 2)

	w := e.do(t, http.MethodPut, "/api/cart/items/b1", "s1", updateItemRequest{Quantity: 5})
	require.Equal(t, http.StatusOK, w.Code)

	out := decodeJSON[cartJSON](t, w)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 5, out.Items[0].Quantity)

	// Quantity zero removes the line.
	w = e.do(t, http.MethodPut, "/api/cart/items/b1", "s1", updateItemRequest{Quantity: 0})
	require.Equal(t, http.StatusOK, w.Code)
	out = decodeJSON[cartJSON](t, w)
	assert.Empty(t, out.Items)
}

func TestUpdateItem_NotInCart(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPut, "/api/cart/items/b1", "s1", updateItemRequest{Quantity: 2})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRemoveItem(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 2)

	w := e.do(t, http.MethodDelete, "/api/cart/items/b1", "s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeJSON[cartJSON](t, w)
	assert.Empty(t, out.Items)

	n, err := e.ledger.Available(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestCheckout_COD(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 2)

	w := e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("COD"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decodeJSON[checkoutResponse](t, w)
	assert.NotEmpty(t, out.OrderID)
	assert.Equal(t, "paid", out.Status)
	assert.Equal(t, "19.98", out.Amount)
	assert.Empty(t, out.RedirectURL)

	// Cart is gone afterwards.
	cw := e.do(t, http.MethodGet, "/api/cart", "s1", nil)
	cartOut := decodeJSON[cartJSON](t, cw)
	assert.Empty(t, cartOut.Items)
}

func TestCheckout_Redirect(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 1)
	e.gateway.session = &payment.Session{
		RedirectURL: "https://pay.example/gateway?txn_ref=ref-1",
		ExternalRef: "ref-1",
	}

	w := e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("REDIRECT"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decodeJSON[checkoutResponse](t, w)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, "https://pay.example/gateway?txn_ref=ref-1", out.RedirectURL)

	stored, err := e.orders.GetByExternalRef(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, out.OrderID, stored.ID)
}

func TestCheckout_Validation(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 1)

	missing := validCheckout("COD")
	missing.Phone = ""
	w := e.do(t, http.MethodPost, "/api/checkout", "s1", missing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("WIRE"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_EmptyCart(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("COD"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_GatewayDown(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 1)
	e.gateway.sessionErr = payment.ErrGatewayUnavailable

	w := e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("REDIRECT"))
	require.Equal(t, http.StatusBadGateway, w.Code)

	// The cart keeps its reservation for a retry.
	cw := e.do(t, http.MethodGet, "/api/cart", "s1", nil)
	cartOut := decodeJSON[cartJSON](t, cw)
	require.Len(t, cartOut.Items, 1)
}

func TestPaymentCallback(t *testing.T) {
	e := newEnv(t)
	e.addItem(t, "s1", "b1", 1)
	e.gateway.session = &payment.Session{RedirectURL: "https://pay.example", ExternalRef: "ref-1"}

	w := e.do(t, http.MethodPost, "/api/checkout", "s1", validCheckout("REDIRECT"))
	require.Equal(t, http.StatusOK, w.Code)
	placed := decodeJSON[checkoutResponse](t, w)

	e.gateway.callback = &payment.CallbackResult{
		ExternalRef: "ref-1",
		Code:        "00",
		Outcome:     payment.OutcomeSuccess,
	}

	cb := e.do(t, http.MethodGet, "/api/payment/callback?txn_ref=ref-1&response_code=00", "", nil)
	require.Equal(t, http.StatusOK, cb.Code)

	out := decodeJSON[callbackResponse](t, cb)
	assert.Equal(t, "paid", out.Status)
	assert.Equal(t, placed.OrderID, out.OrderID)
	assert.True(t, out.Applied)
	assert.Empty(t, out.Message)

	// The duplicate is acknowledged but not applied.
	cb = e.do(t, http.MethodGet, "/api/payment/callback?txn_ref=ref-1&response_code=00", "", nil)
	require.Equal(t, http.StatusOK, cb.Code)
	out = decodeJSON[callbackResponse](t, cb)
	assert.False(t, out.Applied)
}

func TestPaymentCallback_Unusable(t *testing.T) {
	e := newEnv(t)

	e.gateway.callbackErr = payment.ErrMalformedCallback
	w := e.do(t, http.MethodGet, "/api/payment/callback", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeJSON[callbackResponse](t, w)
	assert.Equal(t, "failed", out.Status)
	assert.False(t, out.Applied)

	e.gateway.callbackErr = nil
	e.gateway.callback = &payment.CallbackResult{ExternalRef: "ref-unknown", Code: "00"}
	w = e.do(t, http.MethodGet, "/api/payment/callback?txn_ref=ref-unknown&response_code=00", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out = decodeJSON[callbackResponse](t, w)
	assert.Equal(t, "failed", out.Status)
}
