package checkout

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
	"github.com/xenking/bookshop-checkout/internal/storage/memory"
)

// --- Helpers ---

// pendingOrderFixture seeds a ledger with reserved stock and a matching
// pending order, the state left behind by a redirect checkout.
type pendingOrderFixture struct {
	orders *memory.OrderRepository
	ledger *memory.StockLedger
	order  *order.Order
}

func newPendingOrder(t *testing.T, ref string, createdAt time.Time) *pendingOrderFixture {
	t.Helper()
	ctx := context.Background()

	ledger := memory.NewStockLedger(nil, zap.NewNop())
	ledger.SetStock("b1", 10)
	ledger.SetStock("b2", 5)
	require.NoError(t, ledger.Reserve(ctx, "b1", 2))
	require.NoError(t, ledger.Reserve(ctx, "b2", 1))

	o := &order.Order{
		ID:          "ord-1",
		Amount:      decimal.RequireFromString("31.98"),
		Method:      payment.MethodRedirect,
		Status:      order.StatusPending,
		ExternalRef: ref,
		CreatedAt:   createdAt,
		Lines: []order.Line{
			{OrderID: "ord-1", ProductID: "b1", Quantity: 2, UnitPrice: decimal.RequireFromString("9.99")},
			{OrderID: "ord-1", ProductID: "b2", Quantity: 1, UnitPrice: decimal.RequireFromString("12.00")},
		},
	}

	orders := memory.NewOrderRepository()
	require.NoError(t, orders.Create(ctx, o))

	return &pendingOrderFixture{orders: orders, ledger: ledger, order: o}
}

func (f *pendingOrderFixture) available(t *testing.T, productID string) int {
	t.Helper()
	n, err := f.ledger.Available(context.Background(), productID)
	require.NoError(t, err)
	return n
}

func callbackGateway(ref, code string, outcome payment.Outcome) *mockGateway {
	return &mockGateway{callback: &payment.CallbackResult{
		ExternalRef: ref,
		Code:        code,
		Outcome:     outcome,
	}}
}

// --- Tests ---

func TestApply_SuccessMarksPaid(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(callbackGateway("txn-1", "00", payment.OutcomeSuccess), f.orders, f.ledger, zap.NewNop())

	res, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusPaid, res.Status)

	stored, ok := f.orders.Get("ord-1")
	require.True(t, ok)
	assert.Equal(t, order.StatusPaid, stored.Status)
	assert.False(t, stored.StockReleased)

	// Paid keeps the reservation committed as a sale.
	assert.Equal(t, 8, f.available(t, "b1"))
	assert.Equal(t, 4, f.available(t, "b2"))
}

func TestApply_CancelReleasesStock(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(callbackGateway("txn-1", "24", payment.OutcomeCancelled), f.orders, f.ledger, zap.NewNop())

	res, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusCancelled, res.Status)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, "24", stored.FailureCode)
	assert.True(t, stored.StockReleased)

	assert.Equal(t, 10, f.available(t, "b1"))
	assert.Equal(t, 5, f.available(t, "b2"))
}

func TestApply_UnknownCodeFailsOrder(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(callbackGateway("txn-1", "99", payment.OutcomeUnknown), f.orders, f.ledger, zap.NewNop())

	res, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusFailed, res.Status)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusFailed, stored.Status)
	assert.Equal(t, "99", stored.FailureCode)
	assert.Equal(t, 10, f.available(t, "b1"))
}

func TestApply_DuplicateCallbackIsNoOp(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(callbackGateway("txn-1", "24", payment.OutcomeCancelled), f.orders, f.ledger, zap.NewNop())

	_, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	res, err := rec.Apply(context.Background(), url.Values{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, order.StatusCancelled, res.Status)

	// No double release.
	assert.Equal(t, 10, f.available(t, "b1"))
	assert.Equal(t, 5, f.available(t, "b2"))
}

func TestApply_SuccessAfterCancelIsNoOp(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())

	cancel := NewReconciler(callbackGateway("txn-1", "24", payment.OutcomeCancelled), f.orders, f.ledger, zap.NewNop())
	_, err := cancel.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	success := NewReconciler(callbackGateway("txn-1", "00", payment.OutcomeSuccess), f.orders, f.ledger, zap.NewNop())
	res, err := success.Apply(context.Background(), url.Values{})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusCancelled, stored.Status)
}

func TestApply_MalformedCallback(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(&mockGateway{callbackErr: payment.ErrMalformedCallback}, f.orders, f.ledger, zap.NewNop())

	_, err := rec.Apply(context.Background(), url.Values{})
	require.ErrorIs(t, err, payment.ErrMalformedCallback)

	stored, _ := f.orders.Get("ord-1")
	assert.Equal(t, order.StatusPending, stored.Status)
}

func TestApply_UnknownReference(t *testing.T) {
	f := newPendingOrder(t, "txn-1", time.Now())
	rec := NewReconciler(callbackGateway("txn-other", "00", payment.OutcomeSuccess), f.orders, f.ledger, zap.NewNop())

	_, err := rec.Apply(context.Background(), url.Values{})
	require.ErrorIs(t, err, order.ErrNotFound)
}
