package checkout

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

func TestSweep_CancelsStaleOrders(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newPendingOrder(t, "txn-1", created)

	sw := NewSweeper(f.orders, f.ledger, 30*time.Minute, zap.NewNop())
	sw.now = func() time.Time { return created.Add(time.Hour) }

	swept, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, "stale", stored.FailureCode)
	assert.True(t, stored.StockReleased)
	assert.Equal(t, 10, f.available(t, "b1"))
	assert.Equal(t, 5, f.available(t, "b2"))
}

func TestSweep_SkipsFreshOrders(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newPendingOrder(t, "txn-1", created)

	sw := NewSweeper(f.orders, f.ledger, 30*time.Minute, zap.NewNop())
	sw.now = func() time.Time { return created.Add(10 * time.Minute) }

	swept, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, 8, f.available(t, "b1"))
}

func TestSweep_SecondPassFindsNothing(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newPendingOrder(t, "txn-1", created)

	sw := NewSweeper(f.orders, f.ledger, 30*time.Minute, zap.NewNop())
	sw.now = func() time.Time { return created.Add(time.Hour) }

	swept, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	swept, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
	assert.Equal(t, 10, f.available(t, "b1"))
}

func TestSweep_HonorsReleaseFlagAfterCallback(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newPendingOrder(t, "txn-1", created)

	// The callback lands first and releases the stock.
	rec := NewReconciler(callbackGateway("txn-1", "24", payment.OutcomeCancelled), f.orders, f.ledger, zap.NewNop())
	_, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	sw := NewSweeper(f.orders, f.ledger, 30*time.Minute, zap.NewNop())
	sw.now = func() time.Time { return created.Add(time.Hour) }

	swept, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	// Exactly one release happened between the two paths.
	assert.Equal(t, 10, f.available(t, "b1"))
	assert.Equal(t, 5, f.available(t, "b2"))
}

func TestSweep_PaidOrderIsNeverSwept(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newPendingOrder(t, "txn-1", created)

	rec := NewReconciler(callbackGateway("txn-1", "00", payment.OutcomeSuccess), f.orders, f.ledger, zap.NewNop())
	_, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	sw := NewSweeper(f.orders, f.ledger, 30*time.Minute, zap.NewNop())
	sw.now = func() time.Time { return created.Add(time.Hour) }

	swept, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusPaid, stored.Status)
	assert.Equal(t, 8, f.available(t, "b1"))
}
