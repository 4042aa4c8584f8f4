package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

var _ stock.Ledger = (*StockLedger)(nil)

// StockLedger implements stock.Ledger backed by PostgreSQL. The guarded
// single-row UPDATE makes reserve a serializable per-product
// check-and-decrement; the row lock never spans products, so reservations on
// distinct products do not block each other.
type StockLedger struct {
	pool *pgxpool.Pool
	sink stock.Sink
	lg   *zap.Logger
}

// NewStockLedger returns a StockLedger that uses the given pool and
// publishes committed changes to sink.
func NewStockLedger(pool *pgxpool.Pool, sink stock.Sink, lg *zap.Logger) *StockLedger {
	if sink == nil {
		sink = stock.NopSink{}
	}
	return &StockLedger{pool: pool, sink: sink, lg: lg}
}

// Reserve atomically decrements availability, failing without mutation when
// the requested quantity is not covered.
func (l *StockLedger) Reserve(ctx context.Context, productID string, qty int) error {
	var available int
	err := l.pool.QueryRow(ctx, `
		UPDATE products
		SET available = available - $2
		WHERE id = $1 AND available >= $2
		RETURNING available`, productID, qty,
	).Scan(&available)

	if errors.Is(err, pgx.ErrNoRows) {
		// Either the product is unknown or the stock does not cover the
		// request; report what actually is available.
		current := 0
		if err := l.pool.QueryRow(ctx,
			`SELECT available FROM products WHERE id = $1`, productID,
		).Scan(&current); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(err, "read stock for product %s", productID)
		}
		return &stock.InsufficientStockError{ProductID: productID, Available: current, Requested: qty}
	}
	if err != nil {
		return errors.Wrapf(err, "reserve %d of product %s", qty, productID)
	}

	l.sink.Publish(stock.Changed{ProductID: productID, Available: available})
	return nil
}

// Release restores availability, clamped at the product's total stock. A
// clamped release is logged as an internal consistency fault and not
// surfaced.
func (l *StockLedger) Release(ctx context.Context, productID string, qty int) error {
	var (
		available int
		clamped   bool
	)
	err := l.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT available FROM products WHERE id = $1 FOR UPDATE
		)
		UPDATE products p
		SET available = LEAST(p.available + $2, p.total_stock)
		FROM prev
		WHERE p.id = $1
		RETURNING p.available, prev.available + $2 > p.total_stock`, productID, qty,
	).Scan(&available, &clamped)

	if errors.Is(err, pgx.ErrNoRows) {
		l.lg.Error("release for unknown product", zap.String("product_id", productID))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "release %d of product %s", qty, productID)
	}

	if clamped {
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
	var available int
	err := l.pool.QueryRow(ctx,
		`SELECT available FROM products WHERE id = $1`, productID,
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read stock for product %s", productID)
	}
	return available, nil
}
