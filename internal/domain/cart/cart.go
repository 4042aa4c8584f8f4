// Package cart implements per-session carts whose line items hold live stock
// reservations. Mutations go through Manager, which keeps the ledger and the
// stored session in step.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity is returned for non-positive quantities on Add.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrNotInCart is returned by Update when the product has no entry.
	ErrNotInCart = errors.New("product not in cart")
	// ErrUnavailable is returned when the product is inactive.
	ErrUnavailable = errors.New("product unavailable")
)

// Entry is a single reserved line item. It exists only while its quantity is
// reserved in the stock ledger.
type Entry struct {
	ProductID  string
	Title      string
	UnitPrice  decimal.Decimal
	Quantity   int
	ReservedAt time.Time
}

// Amount returns the line total at the snapshotted unit price.
func (e Entry) Amount() decimal.Decimal {
	return e.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Snapshot is an immutable copy of a cart, ordered by product ID. Checkout
// operates on snapshots so later cart mutations cannot leak into an order.
type Snapshot struct {
	Items []Entry
}

// Empty reports whether the snapshot has no items.
func (s Snapshot) Empty() bool { return len(s.Items) == 0 }

// Total sums all line amounts.
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Items {
		total = total.Add(e.Amount())
	}
	return total
}

// Store is the abstract keyed session store backing carts. The session
// identifier is opaque; its lifetime is governed by the external session
// mechanism. Implementations need not serialize access per session, Manager
// does that.
type Store interface {
	// Load returns the entries for a session, keyed by product ID. A missing
	// session yields an empty map, not an error.
	Load(ctx context.Context, sessionID string) (map[string]Entry, error)
	// Save replaces the entries for a session.
	Save(ctx context.Context, sessionID string, items map[string]Entry) error
	// Delete drops the session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, sessionID string) error
}
