package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
	"github.com/xenking/bookshop-checkout/internal/domain/product"
	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

type cartItemJSON struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Amount    string `json:"amount"`
}

type cartJSON struct {
	Items []cartItemJSON `json:"items"`
	Total string         `json:"total"`
	// ItemsExpired tells the buyer that stale reservations were dropped.
	ItemsExpired bool `json:"items_expired"`
}

func cartToJSON(snap cart.Snapshot, expired bool) cartJSON {
	out := cartJSON{
		Items:        make([]cartItemJSON, len(snap.Items)),
		Total:        snap.Total().StringFixed(2),
		ItemsExpired: expired,
	}
	for i, e := range snap.Items {
		out.Items[i] = cartItemJSON{
			ProductID: e.ProductID,
			Title:     e.Title,
			UnitPrice: e.UnitPrice.StringFixed(2),
			Quantity:  e.Quantity,
			Amount:    e.Amount().StringFixed(2),
		}
	}
	return out
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session required")
		return
	}

	snap, expired, err := h.carts.Get(r.Context(), sid)
	if err != nil {
		logFrom(r).Error("get cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, cartToJSON(snap, expired))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session required")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.carts.Add(r.Context(), sid, req.ProductID, req.Quantity); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	h.respondWithCart(w, r, sid)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session required")
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.carts.Update(r.Context(), sid, r.PathValue("id"), req.Quantity); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	h.respondWithCart(w, r, sid)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session required")
		return
	}

	if err := h.carts.Remove(r.Context(), sid, r.PathValue("id")); err != nil {
		h.writeCartError(w, r, err)
		return
	}
	h.respondWithCart(w, r, sid)
}

// respondWithCart returns the post-mutation cart state, matching what the
// buyer sees next.
func (h *Handler) respondWithCart(w http.ResponseWriter, r *http.Request, sid string) {
	snap, expired, err := h.carts.Get(r.Context(), sid)
	if err != nil {
		logFrom(r).Error("get cart", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, cartToJSON(snap, expired))
}

// writeCartError maps cart mutation failures to API responses.
func (h *Handler) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:      http.StatusConflict,
			Message:   insufficient.Error(),
			Available: &insufficient.Available,
			Requested: &insufficient.Requested,
		})
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, cart.ErrNotInCart):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cart.ErrUnavailable), errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logFrom(r).Error("cart mutation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
