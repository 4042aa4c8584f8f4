package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type stockEventJSON struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

// streamStock pushes stock changes to the client as server-sent events.
// Delivery is best-effort; a client that falls behind simply misses events
// and re-reads the catalog.
func (h *Handler) streamStock(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(stockEventJSON{
				ProductID: change.ProductID,
				Available: change.Available,
			})
			if err != nil {
				logFrom(r).Error("marshal stock event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: stock\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
