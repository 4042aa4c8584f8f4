package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/checkout"
	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

type checkoutRequest struct {
	FullName      string `json:"full_name"`
	Address       string `json:"address"`
	Phone         string `json:"phone"`
	Note          string `json:"note"`
	PaymentMethod string `json:"payment_method"`
}

type checkoutResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	RedirectURL string `json:"redirect_url,omitempty"`
	QRPayload   string `json:"qr_payload,omitempty"`
}

func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FullName == "" || req.Address == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "full_name, address, and phone are required")
		return
	}

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment method")
		return
	}

	result, err := h.checkout.Submit(r.Context(), sid, checkout.SubmitRequest{
		Buyer: order.Buyer{
			FullName: req.FullName,
			Address:  req.Address,
			Phone:    req.Phone,
			Note:     req.Note,
		},
		Method: method,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:     result.Order.ID,
		Status:      string(result.Order.Status),
		Amount:      result.Order.Amount.StringFixed(2),
		RedirectURL: result.RedirectURL,
		QRPayload:   result.QRPayload,
	})
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, checkout.ErrUnsupportedMethod):
		writeError(w, http.StatusBadRequest, "unsupported payment method")
	case errors.Is(err, payment.ErrGatewayUnavailable):
		// No order was persisted; the cart keeps its reservations.
		writeError(w, http.StatusBadGateway, "payment gateway unavailable, please retry")
	default:
		logFrom(r).Error("checkout", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
