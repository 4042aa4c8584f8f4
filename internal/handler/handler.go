// Package handler exposes the cart, checkout, callback, and stock-stream
// endpoints over plain net/http.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
	"github.com/xenking/bookshop-checkout/internal/domain/checkout"
	"github.com/xenking/bookshop-checkout/internal/domain/product"
	"github.com/xenking/bookshop-checkout/internal/notify"
)

// Carts is the cart surface the handler needs.
type Carts interface {
	Get(ctx context.Context, sessionID string) (cart.Snapshot, bool, error)
	Add(ctx context.Context, sessionID, productID string, qty int) error
	Update(ctx context.Context, sessionID, productID string, newQty int) error
	Remove(ctx context.Context, sessionID, productID string) error
}

// Handler wires the domain services to HTTP routes.
type Handler struct {
	carts      Carts
	checkout   *checkout.Service
	reconciler *checkout.Reconciler
	products   product.Repository
	hub        *notify.Hub
}

// New constructs a Handler with the required domain dependencies.
func New(
	carts Carts,
	checkoutSvc *checkout.Service,
	reconciler *checkout.Reconciler,
	products product.Repository,
	hub *notify.Hub,
) *Handler {
	return &Handler{
		carts:      carts,
		checkout:   checkoutSvc,
		reconciler: reconciler,
		products:   products,
		hub:        hub,
	}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("POST /api/cart/items", h.addItem)
	mux.HandleFunc("PUT /api/cart/items/{id}", h.updateItem)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.removeItem)
	mux.HandleFunc("POST /api/checkout", h.submitCheckout)
	mux.HandleFunc("GET /api/payment/callback", h.paymentCallback)
	mux.HandleFunc("GET /api/stock/stream", h.streamStock)
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Available and Requested are set for insufficient-stock failures.
	Available *int `json:"available,omitempty"`
	Requested *int `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// sessionID extracts the opaque session identifier. Session transport is
// external; the header wins over the cookie.
func sessionID(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if c, err := r.Cookie("session_id"); err == nil {
		return c.Value
	}
	return ""
}

func logFrom(r *http.Request) *zap.Logger {
	return zctx.From(r.Context())
}
