package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

type callbackResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	// Applied is false when the callback was a duplicate for an already
	// settled order.
	Applied bool   `json:"applied"`
	Message string `json:"message,omitempty"`
}

// paymentCallback applies an asynchronous gateway result. Malformed or
// unmatchable callbacks are logged and answered with a generic failure page
// payload; no state changes.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.Apply(r.Context(), r.URL.Query())
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMalformedCallback), errors.Is(err, order.ErrNotFound):
			logFrom(r).Warn("unusable payment callback", zap.Error(err))
			writeJSON(w, http.StatusOK, callbackResponse{
				Status:  "failed",
				Message: "payment could not be processed",
			})
		default:
			logFrom(r).Error("payment callback", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := callbackResponse{
		Status:  string(result.Status),
		OrderID: result.Order.ID,
		Applied: result.Applied,
	}
	if result.Status != order.StatusPaid {
		resp.Message = "payment was not completed, please try again"
	}
	writeJSON(w, http.StatusOK, resp)
}
