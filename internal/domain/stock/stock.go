// Package stock defines the ledger that owns per-product available
// quantities. Every reservation and release in the system goes through a
// Ledger; nothing else mutates availability.
package stock

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ErrOverflow signals that a release would push availability past the total
// stock for the product. It is an internal consistency fault: implementations
// clamp the quantity and log, and must never return it to callers.
var ErrOverflow = errors.New("stock release exceeds total stock")

// InsufficientStockError is returned by Reserve when the requested quantity
// exceeds what is currently available. The ledger state is left unchanged.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Changed is published to the notification sink after every committed
// reserve or release. Delivery is best-effort and never load-bearing.
type Changed struct {
	ProductID string
	Available int
}

// Sink receives stock-change notifications. Publish must not block the
// ledger; slow consumers are the sink's problem.
type Sink interface {
	Publish(change Changed)
}

// Ledger is the authoritative counter of available stock per product.
//
// Reserve and Release on the same product are serializable: two concurrent
// reservations never both succeed if their sum would drive availability
// negative. Operations on distinct products do not block each other.
type Ledger interface {
	// Reserve atomically checks and decrements availability. On failure it
	// returns *InsufficientStockError and leaves state unchanged.
	Reserve(ctx context.Context, productID string, qty int) error

	// Release restores quantity, clamped at the product's total stock.
	// An overflow is logged internally and never surfaced.
	Release(ctx context.Context, productID string, qty int) error

	// Available reports the current available quantity.
	Available(ctx context.Context, productID string) (int, error)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) Publish(Changed) {}
