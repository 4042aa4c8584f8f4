// Package order holds the durable order model produced by checkout. Orders
// are created once, their lines are immutable, and they are never deleted by
// this core.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-checkout/internal/payment"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order not found")

// Status is the order lifecycle state. Paid, Cancelled, and Failed are
// terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusFailed
}

// Buyer holds the checkout profile captured with the order.
type Buyer struct {
	FullName string
	Address  string
	Phone    string
	Note     string
}

// Line is one immutable order line with price and quantity frozen at
// submission time.
type Line struct {
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order is a durable record of a checkout attempt.
//
// StockReleased tracks whether the order's reserved stock has been handed
// back to the ledger. It is independent of Status so the callback reconciler
// and the stale-order sweep can race on the same order and release exactly
// once.
type Order struct {
	ID            string
	Amount        decimal.Decimal
	Method        payment.Method
	Status        Status
	ExternalRef   string
	StockReleased bool
	FailureCode   string
	Buyer         Buyer
	Lines         []Line
	CreatedAt     time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order and its lines atomically.
	Create(ctx context.Context, o *Order) error

	// GetByExternalRef returns the order (with lines) correlated with a
	// gateway reference, or ErrNotFound.
	GetByExternalRef(ctx context.Context, ref string) (*Order, error)

	// ListStalePending returns pending orders created before the cutoff whose
	// stock has not been released yet.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]Order, error)

	// SetStatus transitions a pending order to the given terminal status,
	// recording the raw gateway code for diagnostics. It reports whether the
	// transition was applied; false means the order was already terminal.
	SetStatus(ctx context.Context, orderID string, st Status, failureCode string) (bool, error)

	// MarkStockReleased flips the stock-released flag. It reports whether
	// this caller performed the flip; false means stock was already released.
	MarkStockReleased(ctx context.Context, orderID string) (bool, error)
}
