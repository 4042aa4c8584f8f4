// Package memory provides in-memory implementations of the storage
// interfaces. The cart store backs the server's session-scoped carts;
// the stock ledger and order repository back the unit tests.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

var _ stock.Ledger = (*StockLedger)(nil)

// stockRecord holds one product's counters. Its mutex serializes
// check-and-update per product; records never share a lock, so distinct
// products do not block each other.
type stockRecord struct {
	mu        sync.Mutex
	total     int
	available int
}

// StockLedger is a process-local stock ledger.
type StockLedger struct {
	mu      sync.RWMutex
	records map[string]*stockRecord
	sink    stock.Sink
	lg      *zap.Logger
}

// NewStockLedger creates an empty ledger publishing to sink.
func NewStockLedger(sink stock.Sink, lg *zap.Logger) *StockLedger {
	if sink == nil {
		sink = stock.NopSink{}
	}
	return &StockLedger{
		records: make(map[string]*stockRecord),
		sink:    sink,
		lg:      lg,
	}
}

// SetStock installs or resets a product's total stock, making all of it
// available. This models the external catalog owning the stock records.
func (l *StockLedger) SetStock(productID string, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[productID] = &stockRecord{total: total, available: total}
}

func (l *StockLedger) record(productID string) *stockRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[productID]
}

// Reserve atomically checks and decrements availability for one product.
func (l *StockLedger) Reserve(ctx context.Context, productID string, qty int) error {
	_ = ctx

	r := l.record(productID)
	if r == nil {
		return &stock.InsufficientStockError{ProductID: productID, Available: 0, Requested: qty}
	}

	r.mu.Lock()
	if r.available < qty {
		available := r.available
		r.mu.Unlock()
		return &stock.InsufficientStockError{ProductID: productID, Available: available, Requested: qty}
	}
	r.available -= qty
	available := r.available
	r.mu.Unlock()

	l.sink.Publish(stock.Changed{ProductID: productID, Available: available})
	return nil
}

// Release restores availability, clamped at the product's total. Overflow is
// an internal consistency fault: it is logged and clamped, never returned.
func (l *StockLedger) Release(ctx context.Context, productID string, qty int) error {
	_ = ctx

	r := l.record(productID)
	if r == nil {
		l.lg.Error("release for unknown product", zap.String("product_id", productID))
		return nil
	}

	r.mu.Lock()
	r.available += qty
	overflow := r.available > r.total
	if overflow {
		r.available = r.total
	}
	available := r.available
	r.mu.Unlock()

	if overflow {
		l.lg.Error("stock release clamped",
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
			zap.Error(stock.ErrOverflow),
		)
	}

	l.sink.Publish(stock.Changed{ProductID: productID, Available: available})
	return nil
}

// Available reports the current available quantity, zero for unknown
// products.
func (l *StockLedger) Available(ctx context.Context, productID string) (int, error) {
	_ = ctx

	r := l.record(productID)
	if r == nil {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available, nil
}
