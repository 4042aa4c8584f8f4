// Package notify fans stock-change events out to live viewers. Delivery is
// fire-and-forget: no acknowledgement, no guarantee, never load-bearing for
// correctness.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

// subscriberBuffer is the per-subscriber queue depth before events are
// dropped.
const subscriberBuffer = 16

var _ stock.Sink = (*Hub)(nil)

// Hub is an in-process broadcast sink. Publish never blocks the ledger: a
// subscriber that cannot keep up loses events.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan stock.Changed
	lg     *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(lg *zap.Logger) *Hub {
	return &Hub{
		subs: make(map[int]chan stock.Changed),
		lg:   lg,
	}
}

// Subscribe registers a listener and returns its event channel plus a cancel
// function. The channel is closed on cancel.
func (h *Hub) Subscribe() (<-chan stock.Changed, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan stock.Changed, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the change to every subscriber, dropping it for any whose
// buffer is full.
func (h *Hub) Publish(change stock.Changed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- change:
		default:
			h.lg.Debug("stock change dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("product_id", change.ProductID),
			)
		}
	}
}

// Close drops all subscribers, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
