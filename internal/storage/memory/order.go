package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository keeps orders in process memory with the same transition
// guards as the postgres implementation.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	byRef  map[string]string
}

// NewOrderRepository creates an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*order.Order),
		byRef:  make(map[string]string),
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return errors.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
	if o.ExternalRef != "" {
		r.byRef[o.ExternalRef] = o.ID
	}
	return nil
}

func (r *OrderRepository) GetByExternalRef(ctx context.Context, ref string) (*order.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

// Get returns an order by ID. It is not part of order.Repository but is
// convenient in tests.
func (r *OrderRepository) Get(id string) (*order.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, false
	}
	return cloneOrder(o), true
}

func (r *OrderRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []order.Order
	for _, o := range r.orders {
		if o.Status == order.StatusPending && !o.StockReleased && o.CreatedAt.Before(cutoff) {
			stale = append(stale, *cloneOrder(o))
		}
	}
	return stale, nil
}

func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, st order.Status, failureCode string) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != order.StatusPending {
		return false, nil
	}
	o.Status = st
	o.FailureCode = failureCode
	return true, nil
}

func (r *OrderRepository) MarkStockReleased(ctx context.Context, orderID string) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.StockReleased {
		return false, nil
	}
	o.StockReleased = true
	return true, nil
}

func cloneOrder(o *order.Order) *order.Order {
	clone := *o
	clone.Lines = append([]order.Line(nil), o.Lines...)
	return &clone
}
