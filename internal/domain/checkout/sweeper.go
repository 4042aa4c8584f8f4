package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

// Sweeper cancels pending orders whose buyer never completed the external
// payment flow, releasing the stock they hold. It is the order-side
// counterpart of the cart reaper and honors the same idempotent
// stock-released flag as the reconciler.
type Sweeper struct {
	orders order.Repository
	ledger stock.Ledger
	ttl    time.Duration
	lg     *zap.Logger

	now func() time.Time
}

// NewSweeper creates a Sweeper. ttl is how long a pending order may hold its
// reservation before being considered stale.
func NewSweeper(orders order.Repository, ledger stock.Ledger, ttl time.Duration, lg *zap.Logger) *Sweeper {
	return &Sweeper{
		orders: orders,
		ledger: ledger,
		ttl:    ttl,
		lg:     lg,
		now:    time.Now,
	}
}

// Sweep cancels all stale pending orders once and returns how many it
// settled. Orders that lose the status race to a concurrent callback are
// skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	stale, err := s.orders.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "list stale orders")
	}

	swept := 0
	for i := range stale {
		o := &stale[i]

		applied, err := s.orders.SetStatus(ctx, o.ID, order.StatusCancelled, "stale")
		if err != nil {
			return swept, errors.Wrapf(err, "cancel stale order %s", o.ID)
		}
		if !applied {
			continue
		}

		if err := releaseOrderStock(ctx, s.orders, s.ledger, o, s.lg); err != nil {
			return swept, err
		}
		swept++

		s.lg.Info("stale order cancelled",
			zap.String("order_id", o.ID),
			zap.Time("created_at", o.CreatedAt),
		)
	}
	return swept, nil
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep
// failures are logged and retried on the next tick; they never stop the
// loop.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.lg.Error("stale order sweep", zap.Error(err))
			}
		}
	}
}
