package handler

import (
	"net/http"

	"go.uber.org/zap"
)

type productJSON struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Price  string `json:"price"`
	Image  string `json:"image,omitempty"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		logFrom(r).Error("list products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]productJSON, len(products))
	for i, p := range products {
		out[i] = productJSON{
			ID:     p.ID,
			Title:  p.Title,
			Author: p.Author,
			Price:  p.Price.StringFixed(2),
			Image:  p.Image,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
