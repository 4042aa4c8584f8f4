package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. The catalog is
// owned by an external admin surface; this core only reads it. Live
// available quantity is tracked separately by the stock ledger.
type Product struct {
	ID     string
	Title  string
	Author string
	Price  decimal.Decimal
	Image  string
	Active bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
