package checkout

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/domain/stock"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

// Reconciler applies asynchronous gateway callbacks to pending orders.
// Callbacks are at-least-once: a repeat for an already-terminal order is a
// reported no-op, never an error.
type Reconciler struct {
	gateway payment.Gateway
	orders  order.Repository
	ledger  stock.Ledger
	lg      *zap.Logger
}

// NewReconciler creates a Reconciler for the given callback-capable gateway.
func NewReconciler(gateway payment.Gateway, orders order.Repository, ledger stock.Ledger, lg *zap.Logger) *Reconciler {
	return &Reconciler{
		gateway: gateway,
		orders:  orders,
		ledger:  ledger,
		lg:      lg,
	}
}

// ApplyResult reports what the reconciler did with a callback.
type ApplyResult struct {
	Order *order.Order
	// Applied is false when the order was already terminal and the callback
	// was a no-op.
	Applied bool
	Status  order.Status
}

// Apply parses the raw callback query and transitions the matching order.
//
// Success sentinel: order becomes paid; stock stays committed as reserved at
// add-to-cart time. Explicit cancel or decline: order is cancelled and its
// reserved quantity goes back to the ledger. Unmapped codes: order fails,
// stock is released, and the raw code is kept for diagnostics.
func (r *Reconciler) Apply(ctx context.Context, query url.Values) (*ApplyResult, error) {
	res, err := r.gateway.ExecuteCallback(query)
	if err != nil {
		return nil, err
	}

	o, err := r.orders.GetByExternalRef(ctx, res.ExternalRef)
	if err != nil {
		return nil, err
	}

	if o.Status.Terminal() {
		r.lg.Info("callback for settled order ignored",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.String("code", res.Code),
		)
		return &ApplyResult{Order: o, Applied: false, Status: o.Status}, nil
	}

	var target order.Status
	switch res.Outcome {
	case payment.OutcomeSuccess:
		target = order.StatusPaid
	case payment.OutcomeCancelled:
		target = order.StatusCancelled
	default:
		target = order.StatusFailed
		r.lg.Warn("unmapped gateway result code",
			zap.String("order_id", o.ID),
			zap.String("code", res.Code),
		)
	}

	applied, err := r.orders.SetStatus(ctx, o.ID, target, res.Code)
	if err != nil {
		return nil, errors.Wrapf(err, "set order %s status", o.ID)
	}
	if !applied {
		// Lost the race against another callback or the stale sweep.
		return &ApplyResult{Order: o, Applied: false, Status: o.Status}, nil
	}
	o.Status = target
	o.FailureCode = res.Code

	if target != order.StatusPaid {
		if err := releaseOrderStock(ctx, r.orders, r.ledger, o, r.lg); err != nil {
			return nil, err
		}
	}

	r.lg.Info("callback applied",
		zap.String("order_id", o.ID),
		zap.String("status", string(target)),
		zap.String("code", res.Code),
	)
	return &ApplyResult{Order: o, Applied: true, Status: target}, nil
}

// releaseOrderStock hands an unsettled order's reserved quantities back to
// the ledger. The stock-released flag makes it idempotent per order: the
// reconciler and the stale sweep may race here, and exactly one wins.
func releaseOrderStock(ctx context.Context, orders order.Repository, ledger stock.Ledger, o *order.Order, lg *zap.Logger) error {
	won, err := orders.MarkStockReleased(ctx, o.ID)
	if err != nil {
		return errors.Wrapf(err, "mark order %s stock released", o.ID)
	}
	if !won {
		return nil
	}

	for _, line := range o.Lines {
		if err := ledger.Release(ctx, line.ProductID, line.Quantity); err != nil {
			// The flag is already flipped; a partial release here is an
			// internal fault to surface loudly, not retry silently.
			lg.Error("release order stock",
				zap.String("order_id", o.ID),
				zap.String("product_id", line.ProductID),
				zap.Error(err),
			)
			return errors.Wrapf(err, "release product %s for order %s", line.ProductID, o.ID)
		}
	}
	return nil
}
