package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, amount, method, status, external_ref, stock_released,
			failure_code, full_name, address, phone, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.Amount, string(o.Method), string(o.Status), o.ExternalRef, o.StockReleased,
		o.FailureCode, o.Buyer.FullName, o.Buyer.Address, o.Buyer.Phone, o.Buyer.Note, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}

	for _, line := range o.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			o.ID, line.ProductID, line.Quantity, line.UnitPrice,
		)
		if err != nil {
			return errors.Wrapf(err, "insert line %s/%s", o.ID, line.ProductID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// GetByExternalRef returns the order matching a gateway reference, with its
// lines.
func (r *OrderRepository) GetByExternalRef(ctx context.Context, ref string) (*order.Order, error) {
	o, err := r.scanOrder(r.pool.QueryRow(ctx, `
		SELECT id, amount, method, status, external_ref, stock_released,
		       failure_code, full_name, address, phone, note, created_at
		FROM orders WHERE external_ref = $1 AND external_ref <> ''`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order by ref %s", ref)
	}

	if o.Lines, err = r.lines(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListStalePending returns pending orders created before cutoff whose stock
// is still held.
func (r *OrderRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, amount, method, status, external_ref, stock_released,
		       failure_code, full_name, address, phone, note, created_at
		FROM orders
		WHERE status = 'pending' AND NOT stock_released AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "list stale orders")
	}
	defer rows.Close()

	var stale []order.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stale order")
		}
		stale = append(stale, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stale orders")
	}

	for i := range stale {
		if stale[i].Lines, err = r.lines(ctx, stale[i].ID); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// SetStatus applies a pending-guarded terminal transition. It reports false
// when the order was already terminal.
func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, st order.Status, failureCode string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $2, failure_code = $3
		WHERE id = $1 AND status = 'pending'`,
		orderID, string(st), failureCode,
	)
	if err != nil {
		return false, errors.Wrapf(err, "set status of order %s", orderID)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkStockReleased flips the stock-released flag exactly once per order.
func (r *OrderRepository) MarkStockReleased(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET stock_released = TRUE
		WHERE id = $1 AND NOT stock_released`, orderID,
	)
	if err != nil {
		return false, errors.Wrapf(err, "mark order %s stock released", orderID)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *OrderRepository) lines(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1
		ORDER BY product_id`, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of order %s", orderID)
	}
	defer rows.Close()

	var lines []order.Line
	for rows.Next() {
		var line order.Line
		if err := rows.Scan(&line.OrderID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order lines")
	}
	return lines, nil
}

func (r *OrderRepository) scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o      order.Order
		method string
		status string
	)
	err := row.Scan(
		&o.ID, &o.Amount, &method, &status, &o.ExternalRef, &o.StockReleased,
		&o.FailureCode, &o.Buyer.FullName, &o.Buyer.Address, &o.Buyer.Phone, &o.Buyer.Note, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Method = payment.Method(method)
	o.Status = order.Status(status)
	return &o, nil
}
